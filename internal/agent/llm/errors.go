package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"

	errx "github.com/Chative-data-agent/server/internal/core/error"
)

// Classify wraps a provider failure as a model error, marking rate limits,
// server errors and network failures transient.
func Classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if errx.IsTransient(err) {
		return err
	}
	return errx.WrapModel(err, isTransient(err))
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return retryableStatus(gErrPtr.Code)
	}

	var aErr *anthropic.Error
	if errors.As(err, &aErr) {
		return retryableStatus(aErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Wrapped provider errors sometimes only survive as text.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"resource_exhausted", "rate limit", "overloaded", "unavailable", "status 429", "status 503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
