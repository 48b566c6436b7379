// Package scoring implements the content MBTI scoring engine (§4.4): the
// process-wide mode selector, the deterministic random path, the LLM path
// with its batching and parsing tolerance, and the at-most-once-per-id
// guarantee. Grounded on original_source/mbti_service.py for the scoring
// algorithm itself (the teacher repo has no analogous LLM-scoring
// component) and on the teacher's internal/services worker/channel idioms
// for the batching and concurrency shape.
package scoring

import "sync/atomic"

// Mode is the process-wide scoring strategy (§4.4).
type Mode string

const (
	ModeAI     Mode = "ai"
	ModeRandom Mode = "random"
	ModeMixed  Mode = "mixed"
)

// modeSwitch holds the current Mode behind an atomic.Value so SetMode/GetMode
// are safe to call concurrently with in-flight scoring (changeable at
// runtime via C7, per §4.4).
type modeSwitch struct {
	v atomic.Value
}

func newModeSwitch(initial Mode) *modeSwitch {
	m := &modeSwitch{}
	m.v.Store(initial)
	return m
}

func (m *modeSwitch) Get() Mode {
	return m.v.Load().(Mode)
}

func (m *modeSwitch) Set(mode Mode) {
	m.v.Store(mode)
}
