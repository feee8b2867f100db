package worker

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
	"github.com/andrej220/rdist/pkg/wire"
)

type echoStrategy struct{}

func (echoStrategy) Run(_ context.Context, it item.Item, _ report.Emitter) item.Outcome {
	if it.Script == "fail" {
		return item.Fail(it.ID, "failed on purpose")
	}
	return item.Pass(it.ID)
}

func startWorker(t *testing.T) (*wire.Conn, chan error, io.Closer) {
	t.Helper()
	toWorker, fromMaster := io.Pipe()
	fromWorker, toMaster := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), toWorker, toMaster, echoStrategy{})
		toMaster.Close()
	}()
	return wire.NewConn(fromWorker, fromMaster), done, fromMaster
}

func TestServeRunsItemsInOrder(t *testing.T) {
	conn, done, _ := startWorker(t)

	ready, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusReady, ready.Status)

	// pipes are unbuffered, so items are written while outcomes are read
	var msgs []wire.Message
	for _, it := range []item.Item{{ID: "a"}, {ID: "b", Script: "fail"}, {ID: "c"}} {
		msgs = append(msgs, wire.ItemMessage(it))
	}
	writeErr := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if err := conn.Write(m); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- nil
	}()
	want := []item.Kind{item.Passed, item.Failed, item.Passed}
	for i := range want {
		got, err := conn.Read()
		require.NoError(t, err)
		assert.Equal(t, wire.TypeOutcome, got.Type)
		assert.Equal(t, msgs[i].ID, got.ID)
		assert.Equal(t, want[i], got.Outcome.Kind)
	}

	require.NoError(t, <-writeErr)
	require.NoError(t, conn.Write(wire.ShutdownMessage()))
	bye, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusBye, bye.Status)
	assert.NoError(t, <-done)
}

func TestServeStopsOnEOF(t *testing.T) {
	conn, done, toWorker := startWorker(t)
	_, err := conn.Read()
	require.NoError(t, err)
	require.NoError(t, toWorker.Close())
	assert.NoError(t, <-done)
}
