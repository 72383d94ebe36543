package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Silence()
}

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func eventMessage(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.Event{ID: id, Type: models.EventPatientCreated})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func newTestConsumer(r *fakeReader) *Consumer {
	return &Consumer{reader: r, attempts: 3, baseDelay: time.Millisecond}
}

func TestConsumeRetriesHandlerBeforeCommit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{eventMessage(t, 1, "a")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := newTestConsumer(reader).Consume(ctx, func(_ context.Context, e models.Event) error {
		calls++
		if calls < 3 {
			return errors.New("db down")
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{1}, reader.committed)
}

func TestConsumeStopsOnPersistentFailure(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		eventMessage(t, 1, "a"),
		eventMessage(t, 2, "b"),
		eventMessage(t, 3, "c"),
	}}

	var seen []string
	err := newTestConsumer(reader).Consume(context.Background(), func(_ context.Context, e models.Event) error {
		seen = append(seen, e.ID)
		if e.ID == "b" {
			return errors.New("db down")
		}
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "b", "b"}, seen)
	assert.Equal(t, []int64{1}, reader.committed, "the failed message and later ones stay uncommitted")
}

func TestConsumeSkipsUndecodableMessages(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("not json")},
		eventMessage(t, 2, "a"),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := newTestConsumer(reader).Consume(ctx, func(_ context.Context, e models.Event) error {
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2}, reader.committed)
}
