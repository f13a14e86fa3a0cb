package voice

import (
	"strings"
	"testing"
	"time"
)

func TestMetricsCollector(t *testing.T) {
	c := NewMetricsCollector()

	c.MarkRequest(120)
	cur := c.Current()
	if cur.CharCount != 120 {
		t.Errorf("Expected 120 chars, got %d", cur.CharCount)
	}
	if !cur.FirstClipTime.IsZero() {
		t.Error("Expected no first clip before synthesis")
	}

	c.MarkClipSynthesized(40 * time.Millisecond)
	c.MarkClipSynthesized(60 * time.Millisecond)
	c.MarkClipPlayed()
	c.MarkClipPlayed()
	c.MarkDone()

	cur = c.Current()
	if cur.ChunksSynthesized != 2 || cur.ClipsPlayed != 2 {
		t.Errorf("Expected 2 chunks and 2 clips, got %+v", cur)
	}
	if cur.SynthLatency != 100*time.Millisecond {
		t.Errorf("Expected accumulated synth latency, got %v", cur.SynthLatency)
	}
	if cur.FirstClipTime.IsZero() {
		t.Error("Expected the first clip time to be stamped")
	}
	if cur.DoneTime.IsZero() || cur.TotalDuration <= 0 {
		t.Errorf("Expected completion to be stamped, got %+v", cur)
	}

	// A new request starts a fresh session.
	c.MarkRequest(5)
	if cur := c.Current(); cur.ChunksSynthesized != 0 || cur.CharCount != 5 {
		t.Errorf("Expected a reset session, got %+v", cur)
	}
}

func TestMetricsAverage(t *testing.T) {
	c := NewMetricsCollector()
	if avg := c.Average(); avg.ChunksSynthesized != 0 || avg.SynthLatency != 0 {
		t.Errorf("Expected an empty average with no history, got %+v", avg)
	}

	c.MarkRequest(10)
	c.MarkClipSynthesized(40 * time.Millisecond)
	c.MarkDone()

	c.MarkRequest(10)
	c.MarkClipSynthesized(80 * time.Millisecond)
	c.MarkClipSynthesized(40 * time.Millisecond)
	c.MarkDone()

	avg := c.Average()
	if avg.SynthLatency != 80*time.Millisecond {
		t.Errorf("Expected 80ms mean synth latency, got %v", avg.SynthLatency)
	}
	if avg.ChunksSynthesized != 1 {
		t.Errorf("Expected integer chunk average, got %d", avg.ChunksSynthesized)
	}
}

func TestMetricsOnUpdate(t *testing.T) {
	c := NewMetricsCollector()
	updates := make(chan SessionMetrics, 8)
	c.OnUpdate(func(m SessionMetrics) { updates <- m })

	c.MarkRequest(5)
	c.MarkClipSynthesized(10 * time.Millisecond)

	select {
	case <-updates:
	case <-time.After(time.Second):
		t.Fatal("Update callback never fired")
	}
}

func TestSessionMetricsSummary(t *testing.T) {
	var zero SessionMetrics
	if got := zero.Summary(); got != "---ms first clip | ---ms synth | ---ms total" {
		t.Errorf("Unexpected zero summary: %q", got)
	}

	m := SessionMetrics{
		TimeToFirstClip: 250 * time.Millisecond,
		SynthLatency:    1200 * time.Millisecond,
		TotalDuration:   3 * time.Second,
	}
	got := m.Summary()
	if !strings.Contains(got, "250ms first clip") || !strings.Contains(got, "1.2s synth") || !strings.Contains(got, "3s total") {
		t.Errorf("Unexpected summary: %q", got)
	}
}
