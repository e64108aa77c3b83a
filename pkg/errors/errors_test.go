package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAsAppError(t *testing.T) {
	t.Run("直接的业务错误", func(t *testing.T) {
		err := New(CodeJobNotFound, "novel job not found")
		got := AsAppError(err)
		if got == nil || got.Code != CodeJobNotFound {
			t.Errorf("AsAppError = %+v, want code %s", got, CodeJobNotFound)
		}
	})

	t.Run("包装链中的业务错误", func(t *testing.T) {
		inner := New(CodeCapacityExceeded, "maximum concurrent generations reached")
		err := fmt.Errorf("create job: %w", inner)
		got := AsAppError(err)
		if got == nil || got.Code != CodeCapacityExceeded {
			t.Errorf("AsAppError = %+v, want code %s", got, CodeCapacityExceeded)
		}
	})

	t.Run("普通错误返回 nil", func(t *testing.T) {
		if got := AsAppError(errors.New("connection refused")); got != nil {
			t.Errorf("AsAppError = %+v, want nil for a plain error", got)
		}
	})
}

func TestIsAppError(t *testing.T) {
	if !IsAppError(fmt.Errorf("wrap: %w", ErrJobNotFound)) {
		t.Error("IsAppError should see through wrapping")
	}
	if IsAppError(errors.New("plain")) {
		t.Error("IsAppError should reject plain errors")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want bool
	}{
		{CodeProviderRateLimited, true},
		{CodeProviderServer, true},
		{CodeProviderContextLength, false},
		{CodeProviderAuth, false},
		{CodeResponseFormat, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(New(tc.code, "x")); got != tc.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
	if !IsRetryable(errors.New("network timeout")) {
		t.Error("plain errors should default to retryable")
	}
}

func TestJobConflictMapsToConflictStatus(t *testing.T) {
	if ErrJobConflict.HTTPStatus != http.StatusConflict {
		t.Errorf("ErrJobConflict status = %d, want %d", ErrJobConflict.HTTPStatus, http.StatusConflict)
	}
}
