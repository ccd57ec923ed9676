package clients

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"herald/pkg/logging"
)

// RetryConfig configures a bounded, fixed-delay retry policy.
type RetryConfig struct {
	// Name identifies the operation in logs
	Name string

	// MaxRetries is the number of retries after the initial attempt.
	// Default: 2 (3 attempts total).
	MaxRetries int

	// Delay is the fixed delay between attempts. Default: 1 second.
	Delay time.Duration

	// ShouldRetry decides whether an error is worth retrying. A nil func
	// retries every error.
	ShouldRetry func(error) bool

	// Logger for retry notifications
	Logger logging.Logger
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.Name == "" {
		cfg.Name = "retry"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	return cfg
}

// NewRetryPolicy creates a failsafe retry policy from the config.
func NewRetryPolicy(cfg RetryConfig) retrypolicy.RetryPolicy[any] {
	cfg = normalizeRetryConfig(cfg)

	builder := retrypolicy.NewBuilder[any]().
		WithDelay(cfg.Delay).
		WithMaxRetries(cfg.MaxRetries)

	if cfg.ShouldRetry != nil {
		builder = builder.HandleIf(func(_ any, err error) bool {
			return err != nil && cfg.ShouldRetry(err)
		})
	}

	if cfg.Logger != nil {
		builder = builder.OnRetry(func(e failsafe.ExecutionEvent[any]) {
			cfg.Logger.WithFields(logging.Fields{
				"operation": cfg.Name,
				"attempt":   e.Attempts(),
			}).WithError(e.LastError()).Warn("Retrying after error")
		})
	}

	return builder.Build()
}

// Run executes fn under the retry policy, honoring context cancellation.
func Run(ctx context.Context, policy retrypolicy.RetryPolicy[any], fn func() error) error {
	return failsafe.With(policy).WithContext(ctx).Run(fn)
}
