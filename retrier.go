package vehiclebus

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// default delay before a failed connection is reopened
var retrySleep = time.Second

// Retryable is a connection that can be reopened after it fails.
type Retryable interface {
	Open(ctx context.Context) error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry keeps r running until ctx is done, closing and reopening it after
// every failure.
func retry(ctx context.Context, r Retryable, delay time.Duration) error {
	errStarting := errors.New("starting")
	err := errStarting
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				if err = r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				if !sleep(ctx, delay) {
					return ctx.Err()
				}
			}
			err = r.Open(ctx)
			if err != nil {
				continue
			}
		}
		err = r.Start(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
