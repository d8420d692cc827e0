package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/hifi-resolver/pkg/engine"
	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/kit"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
)

// fakeReader serves queued messages, then reports io.EOF.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeWriter struct {
	msgs     []kafka.Message
	failures int
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// failingResolver fails every listing with an internal error and cancels
// the run after cancelAfter calls.
type failingResolver struct {
	calls       int
	cancelAfter int
	cancel      context.CancelFunc
}

func (r *failingResolver) Resolve(context.Context, service.Listing) (*service.Resolution, error) {
	r.calls++
	if r.calls >= r.cancelAfter {
		r.cancel()
	}
	return nil, errors.New("store is down")
}

// flakyResolver fails its first failures calls, then resolves.
type flakyResolver struct {
	calls    int
	failures int
}

func (r *flakyResolver) Resolve(_ context.Context, l service.Listing) (*service.Resolution, error) {
	r.calls++
	if r.calls <= r.failures {
		return nil, errors.New("store is down")
	}
	return &service.Resolution{Listing: l, Category: "headphones", Outcome: match.Reject}, nil
}

// recordingResolver captures the context of each call.
type recordingResolver struct {
	ctxs []context.Context
}

func (r *recordingResolver) Resolve(ctx context.Context, l service.Listing) (*service.Resolution, error) {
	r.ctxs = append(r.ctxs, ctx)
	return &service.Resolution{Listing: l, Category: "iem", Outcome: match.Reject}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResolver(t *testing.T) *service.Service {
	t.Helper()
	eng, err := engine.Load("")
	require.NoError(t, err)
	svc := service.New(eng, service.WithLogger(discardLogger()))
	_, err = svc.AddEntry(context.Background(), "headphones", index.Candidate{ID: "hd600", Name: "Sennheiser HD 600", Brand: "Sennheiser"})
	require.NoError(t, err)
	return svc
}

func message(t *testing.T, offset int64, v any) kafka.Message {
	t.Helper()
	data, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		data = string(b)
	}
	return kafka.Message{Topic: "listings", Offset: offset, Value: []byte(data)}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestConsumerRun(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 1, service.Listing{ID: "l1", Name: "Sennheiser HD-600", Brand: "Sennheiser", Category: "headphones"}),
		message(t, 2, "{broken"),
		message(t, 3, service.Listing{ID: "l3", Name: "Mystery Box"}),
	}}
	writer := &fakeWriter{}
	c := NewConsumer(reader, writer, newResolver(t), discardLogger())

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
	require.Len(t, writer.msgs, 2)

	first := writer.msgs[0]
	assert.Equal(t, "l1", string(first.Key))
	assert.Equal(t, "resolved", header(first, "status"))
	assert.Equal(t, "auto_merge", header(first, "outcome"))
	var ev Event
	require.NoError(t, json.Unmarshal(first.Value, &ev))
	require.NotNil(t, ev.Resolution)
	assert.Equal(t, "hd600", ev.Resolution.Result.CandidateID)
	assert.EqualValues(t, 1, ev.Offset)
	assert.False(t, ev.ProcessedAt.IsZero())

	second := writer.msgs[1]
	assert.Equal(t, "unresolved", header(second, "status"))
	ev = Event{}
	require.NoError(t, json.Unmarshal(second.Value, &ev))
	assert.Nil(t, ev.Resolution)
	assert.Contains(t, ev.Error, "no category")

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.True(t, writer.closed)
}

func TestConsumerRetriesFailuresInOrder(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 7, service.Listing{ID: "l7", Name: "Sennheiser HD 600", Category: "headphones"}),
		message(t, 8, service.Listing{ID: "l8", Name: "Sennheiser HD 600", Category: "headphones"}),
	}}
	writer := &fakeWriter{}
	res := &flakyResolver{failures: 2}
	c := NewConsumer(reader, writer, res, discardLogger())
	c.backoff = time.Millisecond

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 4, res.calls)
	assert.Equal(t, []int64{7, 8}, reader.committed)
	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "l7", string(writer.msgs[0].Key))
	assert.Equal(t, "l8", string(writer.msgs[1].Key))
}

func TestConsumerRetriesPublish(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 8, service.Listing{ID: "l8", Name: "Sennheiser HD 600", Category: "headphones"}),
	}}
	writer := &fakeWriter{failures: 1}
	c := NewConsumer(reader, writer, newResolver(t), discardLogger())
	c.backoff = time.Millisecond

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []int64{8}, reader.committed)
	assert.Len(t, writer.msgs, 1)
}

func TestConsumerFailureBlocksLaterCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 7, service.Listing{ID: "l7", Name: "Sennheiser HD 600", Category: "headphones"}),
		message(t, 8, service.Listing{ID: "l8", Name: "Sennheiser HD 600", Category: "headphones"}),
	}}
	writer := &fakeWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(reader, writer, &failingResolver{cancelAfter: 3, cancel: cancel}, discardLogger())
	c.backoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.committed)
	assert.Empty(t, writer.msgs)
	assert.Len(t, reader.queue, 1)
}

func TestConsumerContext(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(t, 1, service.Listing{ID: "l1", Name: "A", Category: "iem"}),
		message(t, 2, service.Listing{Name: "B", Category: "iem"}),
	}}
	res := &recordingResolver{}
	require.NoError(t, NewConsumer(reader, &fakeWriter{}, res, discardLogger()).Run(context.Background()))

	require.Len(t, res.ctxs, 2)
	assert.Equal(t, kit.TransportStream, kit.GetTransport(res.ctxs[0]))
	assert.Equal(t, "l1", kit.GetRequestID(res.ctxs[0]))
	assert.NotEmpty(t, kit.GetRequestID(res.ctxs[1]))
}

func TestConsumerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reader := &fakeReader{queue: []kafka.Message{message(t, 1, service.Listing{Name: "A"})}}

	done := make(chan error, 1)
	go func() { done <- NewConsumer(reader, &fakeWriter{}, &recordingResolver{}, discardLogger()).Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.committed)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Brokers: []string{"localhost:9092"}, InputTopic: "listings", OutputTopic: "decisions", GroupID: "resolver"}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Brokers = nil
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.GroupID = ""
	assert.Error(t, bad.Validate())
}
