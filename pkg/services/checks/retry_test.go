package checks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestTransient_Classification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"throttling", apiError("Throttling"), true},
		{"rate limit", apiError("RequestLimitExceeded"), true},
		{"service unavailable", apiError("ServiceUnavailable"), true},
		{"slow down", apiError("SlowDown"), true},
		{"access denied", apiError("AccessDenied"), false},
		{"unauthorized", apiError("UnauthorizedOperation"), false},
		{"expired token", apiError("ExpiredToken"), false},
		{"validation", apiError("ValidationError"), false},
		{"wrapped throttling", fmt.Errorf("call failed: %w", apiError("ThrottlingException")), true},
		{"network timeout", timeoutError{}, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, Transient(tc.err))
		})
	}
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	settings := RetrySettings{MaxAttempts: 3, BaseDelay: time.Millisecond}

	err := Call(context.Background(), settings, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return apiError("Throttling")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCall_PermanentFailsImmediately(t *testing.T) {
	attempts := 0
	settings := RetrySettings{MaxAttempts: 3, BaseDelay: time.Millisecond}
	denied := apiError("AccessDenied")

	err := Call(context.Background(), settings, func(context.Context) error {
		attempts++
		return denied
	})

	assert.Equal(t, denied, err)
	assert.Equal(t, 1, attempts)
}

func TestCall_ExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	attempts := 0
	settings := RetrySettings{MaxAttempts: 3, BaseDelay: time.Millisecond}
	last := apiError("ServiceUnavailable")

	err := Call(context.Background(), settings, func(context.Context) error {
		attempts++
		return last
	})

	assert.Equal(t, last, err)
	assert.Equal(t, 3, attempts)
}

func TestCall_ZeroAttemptsStillRunsOnce(t *testing.T) {
	attempts := 0
	err := Call(context.Background(), RetrySettings{}, func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
