package transport

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// RsyncSyncer mirrors Source into the host's directory with rsync.
type RsyncSyncer struct {
	Source string
	Args   []string
}

func (s RsyncSyncer) target(spec HostSpec) string {
	dest := spec.Host
	if spec.User != "" {
		dest = spec.User + "@" + dest
	}
	return dest + ":" + spec.Dir
}

func (s RsyncSyncer) Sync(ctx context.Context, spec HostSpec) error {
	if spec.Dir == "" {
		return nil
	}
	args := append([]string{"-az"}, s.Args...)
	if spec.Port != 0 {
		args = append(args, "-e", fmt.Sprintf("ssh -p %d", spec.Port))
	}
	src := strings.TrimSuffix(s.Source, "/") + "/"
	args = append(args, src, s.target(spec))
	out, err := exec.CommandContext(ctx, "rsync", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
