package errx

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// notFound keeps the store's own miss error in the chain and also matches
// ErrNotFound.
type notFound struct {
	err error
}

func (n *notFound) Error() string        { return n.err.Error() }
func (n *notFound) Unwrap() error        { return n.err }
func (n *notFound) Is(target error) bool { return target == ErrNotFound }

func missing(err error, message string) *AppError {
	return New(&notFound{err: err}, http.StatusNotFound, message)
}

// WrapRedis classifies a go-redis error. redis.Nil becomes a 404 that matches
// ErrNotFound, network failures are marked transient, anything else is a 502.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return missing(err, RedisNotFoundMessage)
	}

	app := New(err, http.StatusBadGateway, RedisErrorMessage)
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(app)
	}
	return app
}
