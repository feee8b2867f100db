package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/persistence"
)

// fakeExec answers by script name.
type fakeExec struct{}

func (fakeExec) Run(_ context.Context, script string) ([]string, []string, error) {
	switch script {
	case "pass":
		return []string{"ok"}, nil, nil
	case "fail":
		return nil, []string{"assertion failed"}, errors.New("exit status 1")
	case "panic":
		panic("executor blew up")
	}
	return nil, nil, errors.New("unknown script " + script)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want Kind
	}{
		{"default", Options{}, KindPlain},
		{"boxing", Options{Boxing: true}, KindIsolated},
		{"boxing without capture", Options{Boxing: true, NoCapture: true}, KindPlain},
		{"apigen", Options{Apigen: "docgen"}, KindInstrumented},
		{"apigen wins over boxing", Options{Apigen: "docgen", Boxing: true}, KindInstrumented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.opts))
		})
	}
}

func TestNew(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &Plain{}, s)

	_, err = New(Options{Boxing: true})
	assert.Error(t, err)

	s, err = New(Options{Boxing: true, BoxCommand: []string{"rdist", "box"}})
	require.NoError(t, err)
	assert.IsType(t, &Isolated{}, s)

	s, err = New(Options{Apigen: "docgen"})
	require.NoError(t, err)
	assert.IsType(t, &Instrumented{}, s)
}

func TestPlain(t *testing.T) {
	p := &Plain{Exec: fakeExec{}}

	o := p.Run(context.Background(), item.Item{ID: "a", Script: "pass"}, nil)
	assert.Equal(t, item.Passed, o.Kind)
	assert.Equal(t, []string{"ok"}, o.Stdout)

	o = p.Run(context.Background(), item.Item{ID: "b", Script: "fail"}, nil)
	assert.Equal(t, item.Failed, o.Kind)
	assert.Equal(t, "exit status 1", o.Details)
	assert.Equal(t, []string{"assertion failed"}, o.Stderr)

	assert.Panics(t, func() {
		p.Run(context.Background(), item.Item{ID: "c", Script: "panic"}, nil)
	})
}

func TestPlainShellExitCodes(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	p := &Plain{Exec: NewShellExecutor()}
	tests := []struct {
		script string
		want   item.Kind
	}{
		{"echo hi", item.Passed},
		{"echo oops >&2; exit 1", item.Failed},
		{"exit 77", item.Skipped},
		{"kill -9 $$", item.Crashed},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			o := p.Run(context.Background(), item.Item{ID: "x", Script: tt.script}, nil)
			assert.Equal(t, tt.want, o.Kind, o.Details)
		})
	}
}

func TestInstrumentedRecordsCalls(t *testing.T) {
	s := NewInstrumented(&Plain{Exec: fakeExec{}})
	s.Run(context.Background(), item.Item{ID: "a", Script: "pass", Keywords: []string{"k"}}, nil)
	s.Run(context.Background(), item.Item{ID: "b", Script: "fail"}, nil)

	recs := s.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ItemID)
	assert.Equal(t, item.Passed, recs[0].Outcome)
	assert.Equal(t, 1, recs[0].StdoutLines)
	assert.Equal(t, item.Failed, recs[1].Outcome)

	out := filepath.Join(t.TempDir(), "docs.json")
	require.NoError(t, s.WriteDocs("docgen", out))
	var docs Docs
	require.NoError(t, persistence.ReadJSON(out, &docs))
	assert.Equal(t, "docgen", docs.Generator)
	assert.Len(t, docs.Calls, 2)
}

// TestHelperBoxProcess is not a real test: it is the child process for the
// isolated strategy tests.
func TestHelperBoxProcess(t *testing.T) {
	if os.Getenv("RDIST_WANT_BOX") != "1" {
		return
	}
	switch os.Getenv("RDIST_BOX_MODE") {
	case "die":
		os.Stderr.WriteString("fatal: out of memory\n")
		os.Exit(3)
	case "panic":
		_ = ServeBox(context.Background(), os.Stdin, os.Stdout, &Plain{Exec: fakeExec{}})
	default:
		if err := ServeBox(context.Background(), os.Stdin, os.Stdout, &Plain{Exec: fakeExec{}}); err != nil {
			os.Exit(4)
		}
	}
	os.Exit(0)
}

func boxCommand() []string {
	return []string{os.Args[0], "-test.run=^TestHelperBoxProcess$"}
}

func TestIsolated(t *testing.T) {
	t.Setenv("RDIST_WANT_BOX", "1")
	b := &Isolated{Command: boxCommand()}

	o := b.Run(context.Background(), item.Item{ID: "a", Script: "pass"}, nil)
	assert.Equal(t, item.Passed, o.Kind, o.Details)

	o = b.Run(context.Background(), item.Item{ID: "b", Script: "fail"}, nil)
	assert.Equal(t, item.Failed, o.Kind)
}

func TestIsolatedChildCrash(t *testing.T) {
	t.Setenv("RDIST_WANT_BOX", "1")
	b := &Isolated{Command: boxCommand()}

	t.Run("panic", func(t *testing.T) {
		t.Setenv("RDIST_BOX_MODE", "panic")
		o := b.Run(context.Background(), item.Item{ID: "c", Script: "panic"}, nil)
		assert.Equal(t, item.Crashed, o.Kind)
		assert.Equal(t, "c", o.ItemID)
	})
	t.Run("exit without outcome", func(t *testing.T) {
		t.Setenv("RDIST_BOX_MODE", "die")
		o := b.Run(context.Background(), item.Item{ID: "d", Script: "pass"}, nil)
		assert.Equal(t, item.Crashed, o.Kind)
		assert.Contains(t, o.Details, "exit status 3")
		assert.Contains(t, strings.Join(o.Stderr, "\n"), "out of memory")
	})
}
