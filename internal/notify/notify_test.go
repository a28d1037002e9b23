package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	sent     []Message
}

func (s *flakySender) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts == nil {
		s.attempts = map[string]int{}
	}
	s.attempts[msg.ID]++
	if s.attempts[msg.ID] <= s.failures {
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *flakySender) snapshot() ([]Message, map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts := make(map[string]int, len(s.attempts))
	for k, v := range s.attempts {
		attempts[k] = v
	}
	return append([]Message(nil), s.sent...), attempts
}

func newDispatcher(t *testing.T, sender Sender, maxAttempts int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(sender, Options{
		Workers:        2,
		QueueSize:      8,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
	}, zap.NewNop())
	d.Start(context.Background())
	return d
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	sender := &flakySender{failures: 2}
	d := newDispatcher(t, sender, 5)

	require.NoError(t, d.ConferenceCreated(context.Background(), "alice@example.com", "Name: DevFest\n"))
	require.NoError(t, d.Close(context.Background()))

	sent, attempts := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "You created a new Conference!", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "DevFest")
	assert.NotEmpty(t, sent[0].ID)
	assert.Equal(t, 3, attempts[sent[0].ID])
}

func TestDispatcher_DropsAfterMaxAttempts(t *testing.T) {
	sender := &flakySender{failures: 100}
	d := newDispatcher(t, sender, 3)

	id, err := d.Enqueue(context.Background(), Message{To: "bob@example.com", Subject: "hi"})
	require.NoError(t, err)
	require.NoError(t, d.Close(context.Background()))

	sent, attempts := sender.snapshot()
	assert.Empty(t, sent)
	assert.Equal(t, 3, attempts[id])
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d := newDispatcher(t, &flakySender{}, 1)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()), "Close is idempotent")

	_, err := d.Enqueue(context.Background(), Message{To: "x@example.com"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_DeliversEverything(t *testing.T) {
	sender := &flakySender{}
	d := newDispatcher(t, sender, 1)

	ids := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := d.Enqueue(context.Background(), Message{To: "x@example.com"})
		require.NoError(t, err)
		ids[id] = true
	}
	require.NoError(t, d.Close(context.Background()))

	sent, _ := sender.snapshot()
	assert.Len(t, sent, 20)
	assert.Len(t, ids, 20, "ids are unique")
}

func TestDispatcher_EnqueueRespectsContext(t *testing.T) {
	// No workers started, so the queue fills up.
	d := NewDispatcher(&flakySender{}, Options{QueueSize: 1}, zap.NewNop())
	_, err := d.Enqueue(context.Background(), Message{To: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = d.Enqueue(ctx, Message{To: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
