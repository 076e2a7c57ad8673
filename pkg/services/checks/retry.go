package checks

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aws/smithy-go"
)

type RetrySettings struct {
	// MaxAttempts bounds the total tries per provider call, first attempt
	// included.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number for each backoff sleep.
	BaseDelay time.Duration
}

func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// transientCodes are provider error codes worth retrying: rate limiting and
// transient unavailability.
var transientCodes = map[string]struct{}{
	"Throttling":                             {},
	"ThrottlingException":                    {},
	"RequestLimitExceeded":                   {},
	"TooManyRequestsException":               {},
	"ProvisionedThroughputExceededException": {},
	"ServiceUnavailable":                     {},
	"ServiceUnavailableException":            {},
	"SlowDown":                               {},
	"RequestTimeout":                         {},
	"InternalError":                          {},
	"InternalFailure":                        {},
}

// Transient reports whether a provider error is worth retrying.
// Authorization and malformed-request errors are permanent; anything
// unrecognized is treated as permanent so a misclassified error fails the
// run instead of burning the retry budget.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := transientCodes[apiErr.ErrorCode()]
		return ok
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Call invokes op with bounded retries and linear-multiplier backoff:
// attempt n sleeps BaseDelay*n before retrying. Only transient errors are
// retried; the backoff sleep blocks the run rather than cancelling it.
// Exhausting the budget returns the last error unchanged.
func Call(ctx context.Context, settings RetrySettings, op func(ctx context.Context) error) error {
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= settings.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !Transient(err) || attempt == settings.MaxAttempts {
			return err
		}
		time.Sleep(settings.BaseDelay * time.Duration(attempt))
	}
	return err
}
