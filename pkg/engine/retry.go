package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryTask pairs a main task with the remediation that repairs its
// precondition. Main is attempted until it succeeds or its retry budget is
// spent; fix runs before every re-attempt.
type RetryTask struct {
	BaseTask

	Main Task
	Fix  Task
}

func (r *RetryTask) DeclaredName() string { return "retry" }

func (r *RetryTask) IsWrite() bool { return false }

func (r *RetryTask) WaitAfterRun() (time.Duration, bool) { return 0, false }

func (r *RetryTask) Dependencies() []Task { return []Task{r.Main, r.Fix} }

func (r *RetryTask) Apply(ctx context.Context) error {
	if r.Main == nil || r.Fix == nil {
		return r.Fail("retry needs both a main and a fix task")
	}
	main := NameOf(r.Main)

	for {
		r.propagate(r.Main)
		err := r.run.execute(ctx, r.Main)
		if err == nil {
			return nil
		}
		// Gating failures are never retried.
		if IsCapabilityNotFound(err) || errors.Is(err, context.Canceled) {
			return err
		}

		remaining := r.Main.Retried()
		r.run.notifyRetry(ctx, r.Main, remaining, err)
		if remaining <= 0 {
			msg := fmt.Sprintf("%s: retries exhausted", main)
			r.recordError(ErrorMessage, msg)
			return NewMessageError(msg).WithCause(err).WithTask(r.name())
		}

		r.Log().Warn().Err(err).
			Str("main", main).
			Str("fix", NameOf(r.Fix)).
			Int("remaining", remaining).
			Msg("attempt failed, running remediation")

		r.propagate(r.Fix)
		if _, ferr := r.run.Submit(ctx, r.Fix); ferr != nil {
			return ferr
		}
		if reason := r.Fix.core().SkipReason(); reason != "" {
			return r.Failf("%s cannot be remediated: %s skipped (%s)", main, NameOf(r.Fix), reason)
		}
	}
}
