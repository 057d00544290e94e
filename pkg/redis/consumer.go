package redis

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/ingestx/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entry is one stream entry.
type Entry struct {
	ID     string
	Values map[string]interface{}
}

// Field returns a string field of the entry, or "" when absent.
func (e Entry) Field(name string) string {
	switch v := e.Values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// EntryHandler handles one entry. A returned error is logged; the entry is not redelivered.
type EntryHandler func(ctx context.Context, e Entry) error

// Tail follows one stream, delivering only entries appended after Run starts.
// Every replica runs its own tail, so each sees every entry.
type Tail struct {
	client  *Client
	stream  string
	count   int64
	block   time.Duration
	backoff retry.Config
	logger  *zap.Logger
}

// TailOption customizes a Tail.
type TailOption func(*Tail)

// WithBatch caps how many entries one read returns.
func WithBatch(n int64) TailOption {
	return func(t *Tail) {
		if n > 0 {
			t.count = n
		}
	}
}

// WithBlock sets how long a read waits for new entries.
func WithBlock(d time.Duration) TailOption {
	return func(t *Tail) {
		if d > 0 {
			t.block = d
		}
	}
}

// WithBackoff sets the delay schedule after failed reads. MaxRetries is ignored.
func WithBackoff(cfg retry.Config) TailOption {
	return func(t *Tail) { t.backoff = cfg }
}

// NewTail validates its arguments and applies opts over the defaults
// (100 entries per read, 5s block, 1s..30s backoff).
func NewTail(client *Client, stream string, logger *zap.Logger, opts ...TailOption) (*Tail, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if stream == "" {
		return nil, errors.New("stream name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tail{
		client: client,
		stream: stream,
		count:  100,
		block:  5 * time.Second,
		backoff: retry.Config{
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2,
			JitterEnabled: true,
		},
		logger: logger.With(zap.String("stream", stream)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run reads and dispatches entries until ctx ends, then returns ctx.Err().
// Read failures are retried with backoff.
func (t *Tail) Run(ctx context.Context, handle EntryHandler) error {
	cursor := "$"
	failures := 0

	t.logger.Info("Following stream")
	for {
		if err := ctx.Err(); err != nil {
			t.logger.Info("Stream tail stopped")
			return err
		}

		streams, err := t.client.XRead(ctx, t.stream, cursor, t.count, t.block)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			delay := retry.Delay(t.backoff, failures)
			t.logger.Warn("Stream read failed",
				zap.Int("failures", failures),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}

		failures = 0
		cursor = t.dispatch(ctx, streams, cursor, handle)
	}
}

// dispatch hands entries to handle in order and returns the id of the last one seen.
func (t *Tail) dispatch(ctx context.Context, streams []redis.XStream, cursor string, handle EntryHandler) string {
	for _, s := range streams {
		for _, m := range s.Messages {
			cursor = m.ID
			if err := handle(ctx, Entry{ID: m.ID, Values: m.Values}); err != nil {
				t.logger.Error("Stream entry handler failed", zap.String("id", m.ID), zap.Error(err))
			}
		}
	}
	return cursor
}
