package audio

import (
	"sync"
)

// MockPlayer is a scriptable player for tests. Clips never really
// play; the test drives completion with FinishClip or FailClip.
type MockPlayer struct {
	mu    sync.Mutex
	state State
	clips [][]byte
	calls []string

	events chan Event

	// LoadErr, when set, is returned by Load.
	LoadErr error
	// PlayErr, when set, is returned by Play.
	PlayErr error
}

// NewMockPlayer creates a new mock player.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{
		state:  StateIdle,
		events: make(chan Event, 16),
	}
}

func (m *MockPlayer) record(name string) {
	m.calls = append(m.calls, name)
}

// Load records the clip.
func (m *MockPlayer) Load(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("load")
	if m.LoadErr != nil {
		return m.LoadErr
	}

	m.clips = append(m.clips, data)
	m.state = StateIdle
	return nil
}

// Play marks the player as playing.
func (m *MockPlayer) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("play")
	if m.PlayErr != nil {
		return m.PlayErr
	}
	if len(m.clips) == 0 {
		return ErrNoClip
	}

	m.state = StatePlaying
	return nil
}

// Pause marks the player as paused.
func (m *MockPlayer) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("pause")
	if m.state == StatePlaying {
		m.state = StatePaused
	}
	return nil
}

// Resume marks the player as playing again.
func (m *MockPlayer) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("resume")
	if m.state == StatePaused {
		m.state = StatePlaying
	}
	return nil
}

// Stop marks the player as idle.
func (m *MockPlayer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("stop")
	m.state = StateIdle
	return nil
}

// State reports the current state.
func (m *MockPlayer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the event channel.
func (m *MockPlayer) Events() <-chan Event {
	return m.events
}

// Close marks the player as idle.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("close")
	m.state = StateIdle
	return nil
}

// FinishClip simulates the current clip reaching its natural end.
func (m *MockPlayer) FinishClip() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	m.events <- Event{Kind: EventDone}
}

// FailClip simulates a playback failure on the current clip.
func (m *MockPlayer) FailClip(err error) {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()

	m.events <- Event{Kind: EventError, Err: err}
}

// Clips returns all clips loaded so far.
func (m *MockPlayer) Clips() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.clips))
	copy(out, m.clips)
	return out
}

// Calls returns the method call log.
func (m *MockPlayer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was called.
func (m *MockPlayer) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.calls {
		if c == name {
			count++
		}
	}
	return count
}

// Reset clears recorded clips and calls.
func (m *MockPlayer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clips = nil
	m.calls = nil
	m.state = StateIdle
}

var _ Player = (*MockPlayer)(nil)
