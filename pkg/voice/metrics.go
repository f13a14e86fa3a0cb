package voice

import (
	"sync"
	"time"
)

// SessionMetrics tracks one speak session from request to completion.
// All durations are measured from the moment the request was accepted.
type SessionMetrics struct {
	// Timestamps for key events
	RequestTime   time.Time // When the speak request was accepted
	FirstClipTime time.Time // When the first synthesized clip arrived
	DoneTime      time.Time // When the last clip finished playing

	// Computed latencies
	TimeToFirstClip time.Duration // Request to first playable clip
	SynthLatency    time.Duration // Cumulative provider round-trip time
	TotalDuration   time.Duration // Request to session completion

	// Counts for this session
	CharCount         int // Characters in the requested text
	ChunksSynthesized int // Text chunks synthesized
	ClipsPlayed       int // Clips played to completion
}

// MetricsCollector collects metrics across speak sessions. It is
// goroutine-safe and keeps a short history for averaging.
type MetricsCollector struct {
	mu      sync.Mutex
	current SessionMetrics
	history []SessionMetrics

	onUpdate func(SessionMetrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		history: make([]SessionMetrics, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever metrics are updated.
func (m *MetricsCollector) OnUpdate(fn func(SessionMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkRequest starts a new session measurement. This is the reference point
// for the session's latencies.
func (m *MetricsCollector) MarkRequest(charCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = SessionMetrics{
		RequestTime: time.Now(),
		CharCount:   charCount,
	}
}

// MarkClipSynthesized records one synthesized chunk and its provider
// round-trip time. The first clip also stamps TimeToFirstClip.
func (m *MetricsCollector) MarkClipSynthesized(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ChunksSynthesized++
	m.current.SynthLatency += latency
	if m.current.FirstClipTime.IsZero() {
		m.current.FirstClipTime = time.Now()
		if !m.current.RequestTime.IsZero() {
			m.current.TimeToFirstClip = m.current.FirstClipTime.Sub(m.current.RequestTime)
		}
		m.notify()
	}
}

// MarkClipPlayed records one clip played to completion.
func (m *MetricsCollector) MarkClipPlayed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ClipsPlayed++
}

// MarkDone records session completion and archives the session.
func (m *MetricsCollector) MarkDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = time.Now()
	if !m.current.RequestTime.IsZero() {
		m.current.TotalDuration = m.current.DoneTime.Sub(m.current.RequestTime)
	}
	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	m.notify()
}

// Current returns the current session's metrics snapshot.
func (m *MetricsCollector) Current() SessionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns average latencies over recently completed sessions.
func (m *MetricsCollector) Average() SessionMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return SessionMetrics{}
	}

	var avg SessionMetrics
	for _, h := range m.history {
		avg.TimeToFirstClip += h.TimeToFirstClip
		avg.SynthLatency += h.SynthLatency
		avg.TotalDuration += h.TotalDuration
		avg.ChunksSynthesized += h.ChunksSynthesized
		avg.ClipsPlayed += h.ClipsPlayed
	}

	n := time.Duration(len(m.history))
	avg.TimeToFirstClip /= n
	avg.SynthLatency /= n
	avg.TotalDuration /= n
	avg.ChunksSynthesized /= len(m.history)
	avg.ClipsPlayed /= len(m.history)

	return avg
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		// Copy to avoid races
		metrics := m.current
		go m.onUpdate(metrics)
	}
}

// Summary returns a one-line formatted view of the session.
func (m *SessionMetrics) Summary() string {
	return formatDuration(m.TimeToFirstClip) + " first clip | " +
		formatDuration(m.SynthLatency) + " synth | " +
		formatDuration(m.TotalDuration) + " total"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
