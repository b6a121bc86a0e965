// Package notify delivers resolve reminders outside the mutation queue.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"foresight/pkg/domain"
)

// Sender delivers one reminder.
type Sender interface {
	Send(ctx context.Context, reminder domain.Reminder) error
}

// Metrics receives delivery outcomes.
type Metrics interface {
	ReminderDelivered(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) ReminderDelivered(bool) {}

// Dispatcher runs every send on its own goroutine with a timeout. A key
// (question, author) is delivered at most once per process.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	metrics Metrics

	mu   sync.Mutex
	seen map[string]struct{}
	wg   sync.WaitGroup
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the outcome recorder.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithTimeout bounds each send.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// NewDispatcher constructs a dispatcher around sender.
func NewDispatcher(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		timeout: 10 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func reminderKey(r domain.Reminder) string { return r.Question.ID + "/" + r.Author.ID }

// Dispatch starts delivery and returns immediately. The send outlives the
// caller's context.
func (d *Dispatcher) Dispatch(ctx context.Context, reminder domain.Reminder) {
	key := reminderKey(reminder)
	d.mu.Lock()
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		d.logger.Debug("reminder_duplicate", "question", reminder.Question.ID, "author", reminder.Author.ID)
		return
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		err := d.sender.Send(sendCtx, reminder)
		d.metrics.ReminderDelivered(err == nil)
		if err != nil {
			d.logger.Warn("reminder_failed", "question", reminder.Question.ID, "author", reminder.Author.ID, "error", err)
			return
		}
		d.logger.Info("reminder_sent", "question", reminder.Question.ID, "author", reminder.Author.ID)
	}()
}

// Wait blocks until in-flight sends finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes reminders to a logger. It is the sender used when no
// webhook is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(_ context.Context, r domain.Reminder) error {
	if s.Logger != nil {
		s.Logger.Info("reminder", "question", r.Question.ID, "author", r.Author.ID, "title", r.Title, "due_at", r.DueAt)
	}
	return nil
}

// WebhookSender posts each reminder as JSON to URL.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// Send implements Sender.
func (s WebhookSender) Send(ctx context.Context, r domain.Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reminder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post reminder: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("post reminder: unexpected status %d", resp.StatusCode)
	}
	return nil
}
