package eventbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/item"
	"github.com/andrej220/rdist/pkg/report"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader serves the messages a fakeWriter collected.
type fakeReader struct {
	msgs      []kafka.Message
	committed int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed += len(msgs)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type recorder struct {
	report.Tally
	events []report.Event
}

func (r *recorder) Report(ev report.Event) {
	r.Count(ev)
	r.events = append(r.events, ev)
}

func forward(t *testing.T, w *fakeWriter, session string, evs ...report.Event) {
	t.Helper()
	f := report.NewForwarder(newKafkaPublisher(w, "events", nil), session, nil)
	for _, ev := range evs {
		f.Forward(ev)
	}
}

func TestKafkaRoundTrip(t *testing.T) {
	w := &fakeWriter{}
	forward(t, w, "",
		report.TestStarted{SessionID: "s1", Hosts: []string{"h1"}},
		report.ItemStart{Item: item.Item{ID: "a"}, Host: "h1"},
		report.ReceivedItemOutcome{Outcome: item.Fail("a", "boom"), Host: "h1"},
		report.TestFinished{Failed: true},
		report.ItemStart{Item: item.Item{ID: "after"}, Host: "h1"},
	)
	require.Len(t, w.msgs, 5)
	assert.Equal(t, "s1", string(w.msgs[0].Key))

	r := &fakeReader{msgs: w.msgs}
	rec := &recorder{}
	require.NoError(t, Replay(context.Background(), newConsumer[report.Envelope](r, report.DecodeEnvelope), "s1", rec))
	require.Len(t, rec.events, 4)
	assert.Equal(t, report.TestFinished{Failed: true}, rec.events[3])
	assert.Equal(t, report.ExitFailures, rec.ExitCode())
	assert.Equal(t, 4, r.committed)
}

func TestReplayFiltersSessionsAndSkipsGarbage(t *testing.T) {
	w := &fakeWriter{}
	forward(t, w, "other", report.TestStarted{SessionID: "other"}, report.TestFinished{})
	w.msgs = append(w.msgs, kafka.Message{Key: []byte("mine"), Value: []byte("not json")})
	forward(t, w, "mine", report.TestStarted{SessionID: "mine"}, report.InterruptedExecution{})

	rec := &recorder{}
	err := Replay(context.Background(), newConsumer[report.Envelope](&fakeReader{msgs: w.msgs}, report.DecodeEnvelope), "mine", rec)
	require.NoError(t, err)
	require.Len(t, rec.events, 2)
	assert.Equal(t, report.InterruptedExecution{}, rec.events[1])
}

func TestReplayStopsAtEndOfStream(t *testing.T) {
	rec := &recorder{}
	err := Replay(context.Background(), newConsumer[report.Envelope](&fakeReader{}, nil), "", rec)
	assert.NoError(t, err)
	assert.Empty(t, rec.events)
}

func TestKafkaPublishError(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: kafka.UnknownTopicOrPartition}, "t", nil)
	err := p.Publish(context.Background(), []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, kafka.UnknownTopicOrPartition)
}

type fakeRedis struct {
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisPublisher(t *testing.T) {
	fr := &fakeRedis{}
	p := &RedisPublisher{client: fr, channel: "rdist"}
	require.NoError(t, p.Publish(context.Background(), []byte("s1"), []byte(`{"seq":1}`)))
	require.NoError(t, p.Publish(context.Background(), nil, []byte(`{"seq":2}`)))
	assert.Equal(t, []string{"rdist:s1", "rdist"}, fr.channels)

	fr.err = errors.New("connection refused")
	assert.Error(t, p.Publish(context.Background(), nil, nil))
}

func TestFanout(t *testing.T) {
	good := &fakeRedis{}
	bad := &fakeRedis{err: errors.New("down")}
	f := Fanout{&RedisPublisher{client: good, channel: "a"}, &RedisPublisher{client: bad, channel: "b"}}
	err := f.Publish(context.Background(), []byte("k"), []byte("v"))
	assert.ErrorContains(t, err, "down")
	assert.Len(t, good.payloads, 1)
	assert.NoError(t, f.Close())
}
