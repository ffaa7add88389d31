package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Condition reports whether the awaited state has been reached. It may be
// called many times and must not have side effects beyond reads.
type Condition func(ctx context.Context) (bool, error)

// maxJitter is the largest fraction subtracted from a poll interval.
const maxJitter = 0.10

var errNotConverged = errors.New("condition not yet met")

// jittered shortens interval by r*maxJitter, r in [0, 1).
func jittered(interval time.Duration, r float64) time.Duration {
	return interval - time.Duration(float64(interval)*maxJitter*r)
}

// pollBackOff yields jittered intervals until the bound elapses on clock.
// The last wait is clamped so the condition is checked once more at the
// bound itself.
type pollBackOff struct {
	poll     Poll
	clock    Clock
	rnd      func() float64
	deadline time.Time
}

func (p *pollBackOff) Reset() {
	p.deadline = p.clock.Now().Add(p.poll.Timeout)
}

func (p *pollBackOff) NextBackOff() time.Duration {
	now := p.clock.Now()
	if !now.Before(p.deadline) {
		return backoff.Stop
	}
	wait := jittered(p.poll.Interval, p.rnd())
	if rest := p.deadline.Sub(now); wait > rest {
		wait = rest
	}
	return wait
}

// clockTimer drives backoff's retry loop from a Clock.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.c }

// Await polls cond until it holds, it errors, or poll.Timeout elapses on
// clock. The timeout case returns a *TaskError of kind ErrorTimeout. It
// also returns the number of polls made.
func Await(ctx context.Context, clock Clock, poll Poll, cond Condition) (int, error) {
	polls := 0
	op := func() error {
		polls++
		ok, err := cond(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errNotConverged
		}
		return nil
	}

	b := &pollBackOff{poll: poll, clock: clock, rnd: rand.Float64}
	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), nil, &clockTimer{clock: clock})
	if errors.Is(err, errNotConverged) {
		return polls, NewTimeoutError(fmt.Sprintf("condition not met within %s", poll.Timeout), nil).
			WithDetail("polls", polls)
	}
	return polls, err
}

func (t *Tasks) await(ctx context.Context, b *BaseTask, poll Poll, what string, cond Condition) error {
	started := t.rc.Clock.Now()
	log := b.Log()
	log.Info().Str("await", what).Dur("timeout", poll.Timeout).Msg("waiting")

	polls, err := Await(ctx, t.rc.Clock, poll, cond)
	elapsed := t.rc.Clock.Now().Sub(started)

	if b.self != nil {
		for _, l := range t.rc.Listeners {
			if wl, ok := l.(WaitListener); ok {
				wl.WaitFinished(ctx, b.self, what, polls, elapsed, err)
			}
		}
	}

	var te *TaskError
	if errors.As(err, &te) && te.Kind == ErrorTimeout {
		te.Message = fmt.Sprintf("%s: %s", what, te.Message)
		te.WithTask(b.name())
		b.recordError(ErrorTimeout, te.Error())
		log.Error().Str("await", what).Int("polls", polls).Msg("wait timed out")
		return te
	}
	if err != nil {
		return err
	}
	log.Info().Str("await", what).Int("polls", polls).Dur("elapsed", elapsed).Msg("condition met")
	return nil
}
