package minio

import (
	"context"
	"errors"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/koustreak/ossgate/internal/errs"
)

// mapError translates a minio-go error into a *errs.Error.
// It mirrors the oss driver: S3 error codes and statuses are carried on the
// transport error so the errs predicates can classify them.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transport(msg, err)
	}

	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		// The SDK reports its own argument checks as InvalidArgument
		// responses that never reached the server.
		if resp.Code == "InvalidArgument" && resp.RequestID == "" {
			return errs.Wrap(errs.ErrKindInvalidArgument, msg, err)
		}
		return errs.Remote(msg, resp.Code, resp.StatusCode, err)
	}

	return errs.Transport(msg, err)
}
