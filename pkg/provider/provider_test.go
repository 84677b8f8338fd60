package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassOfUnclassifiedDefaultsTransient(t *testing.T) {
	require.Equal(t, ClassTransient, ClassOf(errors.New("boom")))
}

func TestClassOfWrapped(t *testing.T) {
	inner := NewError(ClassMalformed, "decode", errors.New("bad bytes"))
	wrapped := errors.Join(errors.New("outer"), inner)
	require.Equal(t, ClassMalformed, ClassOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(NewError(ClassTransient, "op", errors.New("x"))))
	require.True(t, IsRetryable(NewError(ClassRateLimited, "op", errors.New("x"))))
	require.False(t, IsRetryable(NewError(ClassNotFound, "op", errors.New("x"))))
	require.False(t, IsRetryable(NewError(ClassMalformed, "op", errors.New("x"))))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), BackoffConfig{InitialInterval: time.Millisecond}, func() error {
		calls++
		return NewError(ClassMalformed, "op", errors.New("bad"))
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, ClassMalformed, ClassOf(err))
}

func TestRetryRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), BackoffConfig{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return NewError(ClassTransient, "op", errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, BackoffConfig{InitialInterval: 10 * time.Millisecond}, func() error {
		return NewError(ClassRateLimited, "op", errors.New("429"))
	})
	require.Error(t, err)
}

func TestErrorMessageCarriesClassAndOp(t *testing.T) {
	err := NewError(ClassRateLimited, "getBlock", errors.New("429"))
	require.Contains(t, err.Error(), "getBlock")
	require.Contains(t, err.Error(), "rate_limited")
}
