// Package retry implements the bounded validate-and-repair state machine
// shared by SQL synthesis and both chart loops.
package retry

import (
	"context"
	"errors"

	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// ErrNoBudget is returned when a loop is configured without any attempt.
var ErrNoBudget = errors.New("retry: max attempts must be positive")

// Loop validates a candidate and asks for a repaired one until it passes or
// MaxAttempts validations have run. Repair never runs after the last failed
// validation.
type Loop[C any] struct {
	Name        string
	MaxAttempts int

	// Validate returns ok=true when c is acceptable, otherwise a reason that
	// Repair receives verbatim. A non-nil error aborts the loop.
	Validate func(ctx context.Context, c C) (reason string, ok bool, err error)
	Repair   func(ctx context.Context, c C, reason string) (C, error)
}

// Outcome is the terminal state of a Loop run.
type Outcome[C any] struct {
	Candidate C
	Attempts  int
	OK        bool
	// Reason is the last validation reason when OK is false.
	Reason string
}

// Run drives the loop from initial. Budget exhaustion is reported through
// Outcome.OK, not as an error.
func (l Loop[C]) Run(ctx context.Context, initial C) (Outcome[C], error) {
	out := Outcome[C]{Candidate: initial}
	if l.MaxAttempts < 1 {
		return out, ErrNoBudget
	}

	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		reason, ok, err := l.Validate(ctx, out.Candidate)
		out.Attempts = attempt
		out.OK = ok
		out.Reason = reason
		if err != nil {
			return out, err
		}
		if ok {
			logx.Debug().Str("loop", l.Name).Int("attempt", attempt).Msg("candidate accepted")
			return out, nil
		}

		logx.Debug().Str("loop", l.Name).Int("attempt", attempt).Int("max_attempts", l.MaxAttempts).
			Str("reason", reason).Msg("candidate rejected")
		if attempt == l.MaxAttempts {
			break
		}

		next, err := l.Repair(ctx, out.Candidate, reason)
		if err != nil {
			return out, err
		}
		out.Candidate = next
	}

	logx.Warn().Str("loop", l.Name).Int("attempts", out.Attempts).Str("reason", out.Reason).Msg("retry budget exhausted")
	return out, nil
}
