package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	errx "github.com/Chative-data-agent/server/internal/core/error"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// InitialBackoff is the first wait between transient retries.
var InitialBackoff = 250 * time.Millisecond

// Transient runs op until it succeeds, fails with an error that is not
// marked transient, or tries runs are spent. Only errors marked with
// errx.Transient are retried. tries of zero means a single run.
func Transient[T any](ctx context.Context, name string, tries uint, op func(context.Context) (T, error)) (T, error) {
	if tries == 0 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialBackoff
	b.MaxInterval = 10 * time.Second

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !errx.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logx.Warn().Err(err).Str("op", name).Dur("backoff", next).Msg("transient failure, retrying")
		}),
	)
}
