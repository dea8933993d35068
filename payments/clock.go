package payments

import (
	"context"
	"time"
)

// Clock abstracts time so the simulated and live confirmation paths share
// one state machine and tests can drive the wait deterministically.
type Clock interface {
	Now() (now time.Time)

	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case
	Sleep(ctx context.Context, d time.Duration) (err error)
}

type systemClock struct{}

func (systemClock) Now() (now time.Time) { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) (err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func SystemClock() (c Clock) { return systemClock{} }
