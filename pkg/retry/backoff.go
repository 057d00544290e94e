package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config defines retry behavior
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterEnabled bool
}

// DefaultConfig is used for the registry database, which the process cannot run without.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    10,
		InitialDelay:  2 * time.Second,
		MaxDelay:      60 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

// TenantConfig is a short schedule for tenant databases. A batch is waiting on it.
func TenantConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		Multiplier:    2.0,
		JitterEnabled: true,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so WithBackoff returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithBackoff executes fn with exponential backoff and optional jitter.
// Errors wrapped with Permanent stop the loop immediately and are returned unwrapped.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	var lastErr error
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}

		if attempt == cfg.MaxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxRetries, lastErr)
		}

		delay := Delay(cfg, attempt)

		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", cfg.MaxRetries),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// Delay is the wait before retry number attempt (1-based) under cfg.
func Delay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// +/-15% spread
	if cfg.JitterEnabled {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}
