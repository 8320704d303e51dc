package sheraf

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type AttemptOptions struct {
	// Attempts is the maximum number of tries; 5 when zero.
	Attempts int
	// AlsoExcept lists errors that are retried in addition to conflicts.
	AlsoExcept []error
	// OnFailure is called after the n-th failed try, before the next one.
	// It replaces the default backoff of n×10ms.
	OnFailure func(n int)
}

// Attempt runs f in a new connection to db and commits, retrying the whole
// transaction when it fails with a conflict.
func Attempt(ctx context.Context, db *Database, opt AttemptOptions, f func(ctx context.Context, c *Conn) error) error {
	return retry(ctx, db, opt, func() error {
		return db.Connection(ctx, f)
	})
}

func retry(ctx context.Context, db *Database, opt AttemptOptions, try func() error) error {
	if opt.Attempts <= 0 {
		opt.Attempts = 5
	}
	for n := 1; ; n++ {
		err := try()
		if err == nil {
			attempts.WithLabelValues("success").Inc()
			return nil
		}
		if n >= opt.Attempts || !opt.retriable(err) {
			attempts.WithLabelValues("failure").Inc()
			return err
		}
		attempts.WithLabelValues("retry").Inc()
		if db.verbose {
			db.logger.Debug("sheraf: retrying transaction", zap.Int("attempt", n), zap.Error(err))
		}
		if opt.OnFailure != nil {
			opt.OnFailure(n)
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(n) * 10 * time.Millisecond):
			}
		}
	}
}

func (opt AttemptOptions) retriable(err error) bool {
	if IsConflict(err) {
		return true
	}
	for _, e := range opt.AlsoExcept {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
