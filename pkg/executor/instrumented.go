package executor

import (
	"context"
	"sync"
	"time"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/persistence"
	"github.com/andrej220/rdist/pkg/report"
)

// CallRecord is what the documentation collector keeps per executed item.
type CallRecord struct {
	ItemID      string        `json:"item_id"`
	Keywords    []string      `json:"keywords,omitempty"`
	Script      string        `json:"script"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
	Outcome     item.Kind     `json:"outcome"`
	StdoutLines int           `json:"stdout_lines"`
	StderrLines int           `json:"stderr_lines"`
	Details     string        `json:"details,omitempty"`
}

// Instrumented wraps another strategy and records call data for every item
// alongside its outcome.
type Instrumented struct {
	Inner Strategy

	mu      sync.Mutex
	records []CallRecord
}

func NewInstrumented(inner Strategy) *Instrumented {
	return &Instrumented{Inner: inner}
}

func (s *Instrumented) Run(ctx context.Context, it item.Item, sink report.Emitter) item.Outcome {
	started := time.Now()
	o := s.Inner.Run(ctx, it, sink)
	rec := CallRecord{
		ItemID:      it.ID,
		Keywords:    it.Keywords,
		Script:      it.Script,
		Started:     started.UTC(),
		Duration:    o.Duration,
		Outcome:     o.Kind,
		StdoutLines: len(o.Stdout),
		StderrLines: len(o.Stderr),
		Details:     o.Details,
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return o
}

func (s *Instrumented) Records() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

type Docs struct {
	Generator string       `json:"generator"`
	Calls     []CallRecord `json:"calls"`
}

// WriteDocs stores the collected call data as JSON.
func (s *Instrumented) WriteDocs(generator, filename string) error {
	return persistence.WriteJSON(Docs{Generator: generator, Calls: s.Records()}, filename)
}
