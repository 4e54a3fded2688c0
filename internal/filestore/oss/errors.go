package oss

import (
	"context"
	"errors"

	alioss "github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/koustreak/ossgate/internal/errs"
)

// mapError translates an OSS SDK error into a *errs.Error.
// Every remote failure is a transport error; the vendor code and HTTP status
// are kept so callers can tell a missing bucket from a network failure.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transport(msg, err)
	}

	var svc alioss.ServiceError
	if errors.As(err, &svc) {
		return errs.Remote(msg, svc.Code, svc.StatusCode, err)
	}

	var unexpected alioss.UnexpectedStatusCodeError
	if errors.As(err, &unexpected) {
		return errs.Remote(msg, "", unexpected.Got(), err)
	}

	return errs.Transport(msg, err)
}
