package assistant

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultTokenDelayMin = 20 * time.Millisecond
	defaultTokenDelayMax = 50 * time.Millisecond
)

// pacer sleeps a random duration in [min, max]. A zero max disables it.
type pacer struct {
	min time.Duration
	max time.Duration
}

func newPacer(min, max time.Duration) pacer {
	if max < min {
		min, max = max, min
	}
	return pacer{min: min, max: max}
}

func (p pacer) enabled() bool {
	return p.max > 0
}

func (p pacer) next() time.Duration {
	if p.max <= p.min {
		return p.min
	}
	return p.min + rand.N(p.max-p.min+1)
}

// wait sleeps for the next delay, returning early when ctx is done
func (p pacer) wait(ctx context.Context) error {
	if !p.enabled() {
		return ctx.Err()
	}

	timer := time.NewTimer(p.next())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
