package reliability

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/glimte/mmate-dispatch/outbound"
)

// Classifier reports whether a failed attempt may be repeated
type Classifier func(err error) bool

// RetryPolicy decides whether and when a failed attempt is repeated
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (zero-based) may be followed by
	// another one, and after which delay
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxRetries returns the maximum number of retries
	MaxRetries() int
	// NextDelay calculates the delay before the retry following attempt
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff multiplies the delay after every attempt
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
	Classifier      Classifier
}

// NewExponentialBackoff creates an exponential backoff policy with ±15%
// jitter that retries broker I/O failures
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxRetries,
		Jitter:          true,
		Classifier:      outbound.IsRetryable,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !classify(e.Classifier, err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxRetries implements RetryPolicy
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

// NextDelay implements RetryPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	if e.Jitter {
		delay = delay + rand.Float64()*0.3*delay - 0.15*delay
	}

	return time.Duration(delay)
}

// FixedDelay waits the same delay before every retry
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
	Classifier  Classifier
}

// NewFixedDelay creates a fixed delay policy that retries broker I/O failures
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		Delay:       delay,
		MaxAttempts: maxRetries,
		Classifier:  outbound.IsRetryable,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts || !classify(f.Classifier, err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxRetries implements RetryPolicy
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// NextDelay implements RetryPolicy
func (f *FixedDelay) NextDelay(int) time.Duration {
	return f.Delay
}

// NoRetry never retries
var NoRetry RetryPolicy = &FixedDelay{}

// RetryOption configures a single Retry call
type RetryOption func(*retryConfig)

type retryConfig struct {
	logger  *slog.Logger
	onRetry func(attempt int, err error, delay time.Duration)
}

// WithRetryLogger logs every scheduled retry at warn level
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *retryConfig) {
		c.logger = logger
	}
}

// OnRetry registers a hook called before every wait
func OnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// Retry runs fn until it succeeds or policy gives up, and returns the last
// error. When ctx ends during a wait, the result matches both ctx.Err() and
// the last attempt's error.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error, options ...RetryOption) error {
	cfg := &retryConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return err
		}

		if cfg.logger != nil {
			cfg.logger.Warn("attempt failed, retrying",
				"attempt", attempt+1,
				"maxRetries", policy.MaxRetries(),
				"delay", delay,
				"error", err)
		}
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), err)
		}
	}
}

func classify(classifier Classifier, err error) bool {
	if err == nil {
		return false
	}
	if classifier == nil {
		return outbound.IsRetryable(err)
	}
	return classifier(err)
}
