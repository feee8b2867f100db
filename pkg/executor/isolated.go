package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/bytedance/sonic"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
)

const stderrTail = 20

// Isolated runs every item in a freshly spawned child process, so a crash
// while running the item cannot take down the caller. The child reads one
// item from stdin and writes one outcome to stdout (see ServeBox).
type Isolated struct {
	Command []string
}

func (b *Isolated) Run(ctx context.Context, it item.Item, _ report.Emitter) item.Outcome {
	start := time.Now()
	payload, err := sonic.Marshal(it)
	if err != nil {
		return item.Crash(it.ID, fmt.Sprintf("encode item: %v", err))
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	var o item.Outcome
	if err := sonic.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &o); err == nil && o.ItemID == it.ID && o.Validate() == nil {
		if o.Duration == 0 {
			o.Duration = time.Since(start)
		}
		return o
	}

	details := "child exited without reporting an outcome"
	if runErr != nil {
		details = fmt.Sprintf("child process: %v", runErr)
	}
	o = item.Crash(it.ID, details)
	o.Stderr = tail(splitLines(stderr.Bytes()), stderrTail)
	o.Duration = time.Since(start)
	return o
}

// ServeBox is the child side of Isolated: it reads a single item from in,
// runs it with s and writes the outcome to out.
func ServeBox(ctx context.Context, in io.Reader, out io.Writer, s Strategy) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read item: %w", err)
	}
	var it item.Item
	if err := sonic.Unmarshal(data, &it); err != nil {
		return fmt.Errorf("decode item: %w", err)
	}
	o := s.Run(ctx, it, nil)
	resp, err := sonic.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	_, err = out.Write(append(resp, '\n'))
	return err
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
