package transport

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/executor"
	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/wire"
	"github.com/andrej220/rdist/pkg/worker"
)

func TestParseHostSpec(t *testing.T) {
	tests := []struct {
		raw     string
		want    HostSpec
		wantErr bool
	}{
		{raw: "localhost", want: HostSpec{Raw: "localhost", Host: "localhost"}},
		{raw: "alice@build1", want: HostSpec{Raw: "alice@build1", User: "alice", Host: "build1"}},
		{raw: "build1:2222", want: HostSpec{Raw: "build1:2222", Host: "build1", Port: 2222}},
		{raw: "alice@build1:2222:/srv/work", want: HostSpec{Raw: "alice@build1:2222:/srv/work", User: "alice", Host: "build1", Port: 2222, Dir: "/srv/work"}},
		{raw: "build1:work", want: HostSpec{Raw: "build1:work", Host: "build1", Dir: "work"}},
		{raw: "ssh://bob@h:22", want: HostSpec{Raw: "ssh://bob@h:22", User: "bob", Host: "h", Port: 22}},
		{raw: "", wantErr: true},
		{raw: "@host", wantErr: true},
		{raw: "alice@", wantErr: true},
		{raw: "h:99999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseHostSpec(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHostSpecKinds(t *testing.T) {
	local, _ := ParseHostSpec("localhost")
	assert.True(t, local.IsLocal())
	assert.Equal(t, "localhost:22", local.Address())

	remote, _ := ParseHostSpec("alice@localhost")
	assert.False(t, remote.IsLocal())

	inproc, _ := ParseHostSpec("inproc")
	assert.True(t, inproc.IsInProc())
}

type scriptStrategy struct{}

func (scriptStrategy) Run(ctx context.Context, it item.Item, _ report.Emitter) item.Outcome {
	switch it.Script {
	case "fail":
		return item.Fail(it.ID, "boom")
	case "die":
		panic("worker died")
	case "hang":
		<-ctx.Done()
		return item.Crash(it.ID, "aborted")
	}
	return item.Pass(it.ID)
}

func pipeDialer() PipeDialer {
	return PipeDialer{Strategy: func(HostSpec) executor.Strategy { return scriptStrategy{} }}
}

func dialInProc(t *testing.T) Channel {
	t.Helper()
	spec, err := ParseHostSpec("inproc")
	require.NoError(t, err)
	ch, err := pipeDialer().Dial(context.Background(), spec)
	require.NoError(t, err)
	return ch
}

func TestPipeChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	ch := dialInProc(t)

	id, err := ch.Send(ctx, item.Item{ID: "a", Script: "ok"})
	require.NoError(t, err)
	m, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, wire.TypeOutcome, m.Type)
	assert.Equal(t, item.Passed, m.Outcome.Kind)

	_, err = ch.Send(ctx, item.Item{ID: "b", Script: "fail"})
	require.NoError(t, err)
	m, err = ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.Failed, m.Outcome.Kind)

	require.NoError(t, ch.Shutdown(ctx))
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err = ch.Send(ctx, item.Item{ID: "c"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPipeChannelWorkerDeath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := dialInProc(t)
	defer ch.Close()

	_, err := ch.Send(ctx, item.Item{ID: "x", Script: "die"})
	require.NoError(t, err)
	_, err = ch.Receive(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeChannelKill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := dialInProc(t)

	_, err := ch.Send(ctx, item.Item{ID: "slow", Script: "hang"})
	require.NoError(t, err)
	ch.Kill()
	ch.Kill()
	_, err = ch.Receive(ctx)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, ch.Close())
}

func TestReceiveHonoursContext(t *testing.T) {
	ch := dialInProc(t)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ch.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter(t *testing.T) {
	refused := errors.New("no route to host")
	r := Router{
		InProc: pipeDialer(),
		Remote: PipeDialer{Refuse: func(HostSpec) error { return refused }},
	}
	spec, _ := ParseHostSpec("inproc")
	ch, err := r.Dial(context.Background(), spec)
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	spec, _ = ParseHostSpec("bob@farhost")
	_, err = r.Dial(context.Background(), spec)
	assert.ErrorIs(t, err, refused)

	spec, _ = ParseHostSpec("localhost")
	_, err = r.Dial(context.Background(), spec)
	assert.Error(t, err)
}

// TestHelperWorkerProcess is not a real test. LocalDialer runs the test
// binary with RDIST_WANT_WORKER=1 to get a worker speaking on stdio.
func TestHelperWorkerProcess(t *testing.T) {
	if os.Getenv("RDIST_WANT_WORKER") != "1" {
		return
	}
	err := worker.Serve(context.Background(), os.Stdin, os.Stdout, scriptStrategy{})
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestLocalDialer(t *testing.T) {
	t.Setenv("RDIST_WANT_WORKER", "1")
	d := LocalDialer{Command: []string{os.Args[0], "-test.run=^TestHelperWorkerProcess$"}}
	spec, _ := ParseHostSpec("localhost")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := d.Dial(ctx, spec)
	require.NoError(t, err)

	id, err := ch.Send(ctx, item.Item{ID: "sub", Script: "fail"})
	require.NoError(t, err)
	m, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, item.Failed, m.Outcome.Kind)

	require.NoError(t, ch.Shutdown(ctx))
	assert.NoError(t, ch.Close())
}

func TestLocalDialerKill(t *testing.T) {
	t.Setenv("RDIST_WANT_WORKER", "1")
	d := LocalDialer{Command: []string{os.Args[0], "-test.run=^TestHelperWorkerProcess$"}}
	spec, _ := ParseHostSpec("localhost")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ch, err := d.Dial(ctx, spec)
	require.NoError(t, err)
	_, err = ch.Send(ctx, item.Item{ID: "slow", Script: "hang"})
	require.NoError(t, err)
	ch.Kill()
	_, err = ch.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, ch.Close())
}

func TestSSHDialerNeedsCredentials(t *testing.T) {
	_, err := NewSSHDialer(SSHConfig{}, DefaultResilience(), nil, nil)
	assert.Error(t, err)
	_, err = NewSSHDialer(SSHConfig{KeyPath: "/nonexistent/key"}, DefaultResilience(), nil, nil)
	assert.Error(t, err)
}

func TestSSHRemoteCommand(t *testing.T) {
	d, err := NewSSHDialer(SSHConfig{Password: "pw"}, DefaultResilience(), nil, nil)
	require.NoError(t, err)
	spec, _ := ParseHostSpec("h:/srv/it's")
	assert.Equal(t, `mkdir -p '/srv/it'\''s' && cd '/srv/it'\''s' && exec rdist worker`, d.remoteCommand(spec))
	spec, _ = ParseHostSpec("h")
	assert.Equal(t, "rdist worker", d.remoteCommand(spec))
}

func TestRsyncTarget(t *testing.T) {
	spec, _ := ParseHostSpec("alice@h:2222:/srv/work")
	assert.Equal(t, "alice@h:/srv/work", RsyncSyncer{}.target(spec))
}
