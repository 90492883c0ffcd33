package requestcache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper is implemented by caches that keep expired entries until they are
// explicitly removed.
type Reaper interface {
	// Reap deletes expired entries, returning how many were removed.
	Reap(ctx context.Context) (int64, error)
}

// StartReaping calls Reap every frequency until ctx is cancelled. The
// returned channel is closed once the loop has exited.
func StartReaping(ctx context.Context, r Reaper, frequency time.Duration, logger logrus.FieldLogger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(frequency):
				if n, err := r.Reap(ctx); err != nil {
					logger.WithError(err).Error("request cache reaping failed")
				} else if n > 0 {
					logger.WithField("removed", n).Info("request cache reaped")
				}
			}
		}
	}()
	return done
}
