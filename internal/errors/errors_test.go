package errors

import (
	"context"
	"testing"
	"time"

	goerrors "errors"

	"github.com/stretchr/testify/require"
)

func TestProviderUnavailableCarriesVariantAndKeys(t *testing.T) {
	err := ProviderUnavailable("qdrant", "url", "api_key")
	require.Equal(t, KindProviderUnavailable, KindOf(err))
	require.Equal(t, "qdrant", err.VariantID)
	require.Equal(t, []string{"url", "api_key"}, err.MissingKeys)
	require.False(t, Retryable(err))
}

func TestProviderSwitchErrorMentionsRemediation(t *testing.T) {
	err := ProviderSwitchError("qdrant", "memory", 768, 768)
	require.Contains(t, err.Remediation, "re-index")
	require.Contains(t, err.Remediation, "revert")
}

func TestTimedOutIsRetryable(t *testing.T) {
	err := TimedOut("embed")
	require.True(t, Retryable(err))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := goerrors.New("connection refused")
	wrapped := Wrap(KindTransient, base, "dial qdrant")
	require.True(t, goerrors.Is(wrapped, base))
	require.Equal(t, KindTransient, KindOf(wrapped))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerOptions{
		FailureThreshold:  2,
		ResetTimeout:      20 * time.Millisecond,
		HalfOpenSuccesses: 1,
	})
	ctx := context.Background()
	failing := func(context.Context) error { return New(KindTransient, "boom") }

	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(ctx, failing))
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func(context.Context) error { return nil })
	require.Error(t, err) // still open, call rejected without running fn

	time.Sleep(25 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}
