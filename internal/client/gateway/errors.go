package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/mediasync/internal/common"
)

//nolint:gochecknoglobals
var (
	notFoundCodes = map[string]bool{
		"NoSuchKey": true, "NotFound": true, "NoSuchBucket": true,
	}
	transientCodes = map[string]bool{
		"SlowDown": true, "RequestTimeout": true, "InternalError": true,
		"ServiceUnavailable": true, "RequestTimeTooSkewed": true, "Throttling": true,
	}
)

// wrapErr classifies err into a common.RemoteError for op. Context errors
// are reported as common.ErrCanceled.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, common.ErrCanceled, err)
	}

	re := &common.RemoteError{Op: op, Err: err}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		re.Transient = code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
		if code == http.StatusNotFound {
			re.Err = fmt.Errorf("%w: %w", common.ErrNotFound, err)
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch {
		case notFoundCodes[apiErr.ErrorCode()]:
			if !errors.Is(re.Err, common.ErrNotFound) {
				re.Err = fmt.Errorf("%w: %w", common.ErrNotFound, err)
			}
		case transientCodes[apiErr.ErrorCode()], apiErr.ErrorFault() == smithy.FaultServer:
			re.Transient = true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		re.Network = true
		re.Transient = true
	}

	return re
}
