package sources

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Aniket17200/Profitfirst/internal/util"
)

// RetryPolicy retries transient failures with a linearly growing delay:
// attempt n waits n*BaseDelay before attempt n+1.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

// DefaultRetryPolicy is three attempts, 2s then 4s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 2 * time.Second}
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are used up, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt == attempts {
			return err
		}

		delay := time.Duration(attempt) * p.BaseDelay
		util.SourceRetriesTotal.WithLabelValues(source).Inc()
		util.GetLogger().Warn("Retrying upstream call",
			zap.String("source", source),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return transient(source, StatusCode(err), sleepErr)
		}
	}
	return err
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
