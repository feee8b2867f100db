package report

import (
	"sync"
)

// WebReporter keeps the serialized event log in memory for the live web
// view.
type WebReporter struct {
	Tally
	mu       sync.RWMutex
	events   []Envelope
	terminal Kind
}

func NewWebReporter() *WebReporter {
	return &WebReporter{}
}

func (r *WebReporter) Report(ev Event) {
	r.Count(ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	env, err := Wrap(int64(len(r.events)+1), ev)
	if err != nil {
		return
	}
	r.events = append(r.events, env)
	if IsTerminal(ev) {
		r.terminal = ev.Kind()
	}
}

// Since returns the events with a sequence number greater than seq.
func (r *WebReporter) Since(seq int64) []Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(r.events)) {
		return []Envelope{}
	}
	out := make([]Envelope, len(r.events)-int(seq))
	copy(out, r.events[seq:])
	return out
}

type WebSummary struct {
	Counts   Counts `json:"counts"`
	Events   int    `json:"events"`
	Terminal Kind   `json:"terminal,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (r *WebReporter) Summary() WebSummary {
	r.mu.RLock()
	n, term := len(r.events), r.terminal
	r.mu.RUnlock()
	return WebSummary{Counts: r.Counts(), Events: n, Terminal: term, ExitCode: r.ExitCode()}
}
