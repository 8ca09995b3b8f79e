package errx

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	var app *AppError
	require.True(t, errors.As(err, &app))
	assert.Equal(t, http.StatusNotFound, app.Status)
	assert.Equal(t, RedisNotFoundMessage, app.Message)
	assert.True(t, errors.Is(err, redis.Nil))
	assert.True(t, IsNotFound(err))

	err = WrapRedis(errors.New("WRONGTYPE Operation against a key"))
	require.True(t, errors.As(err, &app))
	assert.Equal(t, http.StatusBadGateway, app.Status)
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTransient(err))

	err = WrapRedis(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})
	assert.True(t, IsTransient(err))
	assert.Equal(t, RedisErrorMessage, UserMessage(err))
}

func TestTransientSurvivesWrapping(t *testing.T) {
	base := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("validate plan: %w", WrapWarehouse(base))

	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.Equal(t, WarehouseErrorMessage, UserMessage(err))

	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(WrapModel(base, false)))
	assert.True(t, IsTransient(WrapModel(base, true)))
	assert.Nil(t, Transient(nil))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("boom"), want: SystemErrorMessage},
		{name: "app", err: InvalidInput("empty question"), want: InvalidInputMessage},
		{name: "wrapped app", err: fmt.Errorf("outer: %w", New(errors.New("x"), http.StatusBadGateway, ModelErrorMessage)), want: ModelErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestIsNotFoundSentinel(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("artifact x: %w", ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("x")))
}

func TestWrapStorage(t *testing.T) {
	assert.Nil(t, WrapStorage(nil))

	missing := fmt.Errorf("failed to get object a/b: %w", minio.ErrorResponse{Code: "NoSuchKey", Message: "gone"})
	err := WrapStorage(missing)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, StorageNotFoundMessage, UserMessage(err))
	var resp minio.ErrorResponse
	require.True(t, errors.As(err, &resp))
	assert.Equal(t, "NoSuchKey", resp.Code)

	err = WrapStorage(errors.New("connection reset"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.False(t, IsNotFound(err))
}
