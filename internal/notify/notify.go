// Package notify delivers e-mail notifications asynchronously.
//
// Messages are queued after the transaction that caused them has committed and
// are handed to a small worker pool. Each delivery is retried with exponential
// backoff up to Options.MaxAttempts. A message that still fails after the last
// attempt is logged and dropped, and the queue lives in memory only, so delivery
// is best effort. It never affects the data that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when enqueueing on a closed dispatcher.
var ErrClosed = errors.New("notify: dispatcher closed")

// Message is one e-mail.
type Message struct {
	ID      string
	To      string
	Subject string
	Body    string
}

// Sender delivers a message. Implementations must tolerate duplicates.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Options tunes a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	// MaxAttempts bounds the sends per message, at least 1.
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Dispatcher queues messages and hands them to a Sender.
type Dispatcher struct {
	sender Sender
	opts   Options
	log    *zap.Logger
	queue  chan Message

	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group
}

// NewDispatcher constructs a Dispatcher. Call Start before enqueueing.
func NewDispatcher(sender Sender, opts Options, log *zap.Logger) *Dispatcher {
	opts.Workers = max(opts.Workers, 1)
	opts.MaxAttempts = max(opts.MaxAttempts, 1)
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	return &Dispatcher{
		sender: sender,
		opts:   opts,
		log:    log,
		queue:  make(chan Message, max(opts.QueueSize, 0)),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close drains
// the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error { return d.work(gctx) })
	}
	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
}

func (d *Dispatcher) work(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.deliver(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := d.sender.Send(ctx, msg)
		if err != nil {
			d.log.Warn("notification attempt failed",
				zap.String("id", msg.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.opts.MaxAttempts)),
	)
	if err != nil {
		d.log.Error("notification dropped",
			zap.String("id", msg.ID),
			zap.String("to", msg.To),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return
	}
	d.log.Debug("notification delivered", zap.String("id", msg.ID), zap.Int("attempts", attempt))
}

// Enqueue queues msg, assigning an id when it has none. It blocks while the
// queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrClosed
	}
	select {
	case d.queue <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConferenceCreated queues the confirmation sent to an organizer.
func (d *Dispatcher) ConferenceCreated(ctx context.Context, email, summary string) error {
	_, err := d.Enqueue(ctx, Message{
		To:      email,
		Subject: "You created a new Conference!",
		Body:    "Hi, you have created the following conference.\n" + summary,
	})
	return err
}

// Close stops accepting messages and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	g := d.group
	d.mu.Unlock()
	if g == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notify: drain queue: %w", ctx.Err())
	}
}

// LogSender writes messages to the log instead of a mail server.
type LogSender struct {
	From string
	Log  *zap.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	s.Log.Info("email",
		zap.String("id", msg.ID),
		zap.String("from", s.From),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
