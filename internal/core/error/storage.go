package errx

import (
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// WrapStorage maps object store errors to AppError with appropriate status codes.
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}

	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		resp = minio.ToErrorResponse(err)
	}
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return missing(err, StorageNotFoundMessage)
	}

	return New(err, http.StatusBadGateway, StorageErrorMessage)
}
