package report

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

const streamBuffer = 256

// Emitter is the producer side of the event stream.
type Emitter interface {
	Emit(ev Event) bool
}

// ReporterError is a panic raised by the Reporter while rendering an event.
type ReporterError struct {
	Kind  Kind
	Value any
	Stack []byte
}

func (e *ReporterError) Error() string {
	return fmt.Sprintf("reporter panicked on %s: %v", e.Kind, e.Value)
}

// Stream sits between the session and its Reporter. Emit updates the
// failure flag synchronously and queues the event; a single goroutine
// delivers queued events to the Reporter in emission order. ShouldStop is
// the only path from reporting back into scheduling.
type Stream struct {
	rep       Reporter
	exitFirst bool

	failed   atomic.Bool
	collect  atomic.Bool
	terminal atomic.Bool
	broken   atomic.Pointer[ReporterError]

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

func NewStream(rep Reporter, exitFirst bool) *Stream {
	s := &Stream{
		rep:       rep,
		exitFirst: exitFirst,
		queue:     make(chan Event, streamBuffer),
		done:      make(chan struct{}),
	}
	go s.deliver()
	return s
}

func (s *Stream) deliver() {
	defer close(s.done)
	for ev := range s.queue {
		s.report(ev)
	}
}

// report delivers one event. A panicking Reporter is recorded, not fatal;
// the first panic is kept and later events are still offered to it.
func (s *Stream) report(ev Event) {
	defer func() {
		if v := recover(); v != nil {
			s.broken.CompareAndSwap(nil, &ReporterError{Kind: ev.Kind(), Value: v, Stack: debug.Stack()})
		}
	}()
	s.rep.Report(ev)
}

// Emit queues ev. After Close, or after a terminal event has been emitted,
// further events are dropped and Emit returns false.
func (s *Stream) Emit(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if IsTerminal(ev) {
		if !s.terminal.CompareAndSwap(false, true) {
			return false
		}
	} else if s.terminal.Load() {
		return false
	}
	if IsFailure(ev) {
		s.failed.Store(true)
	} else if e, ok := ev.(FailedTryiter); ok && e.Collect {
		s.collect.Store(true)
	}
	s.queue <- ev
	return true
}

// Failed reports whether a failing, non-skipped result or a collection
// error has been emitted.
func (s *Stream) Failed() bool { return s.failed.Load() || s.collect.Load() }

// ShouldStop is true once a failure was seen and stop-on-first-failure is
// on, or once the Reporter has panicked.
func (s *Stream) ShouldStop() bool {
	return (s.exitFirst && s.failed.Load()) || s.broken.Load() != nil
}

// Err returns the Reporter's first panic as a *ReporterError, or nil.
func (s *Stream) Err() error {
	if e := s.broken.Load(); e != nil {
		return e
	}
	return nil
}

// Terminated reports whether a terminal event has been emitted.
func (s *Stream) Terminated() bool { return s.terminal.Load() }

// Close flushes queued events and returns the reporter's exit code, or
// ExitCrashed when the reporter panicked. It is safe to call more than once.
func (s *Stream) Close() int {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	if s.broken.Load() != nil {
		return ExitCrashed
	}
	return s.rep.ExitCode()
}
