package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewHostLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(HostConfig{})
	require.Nil(t, l)
	waited, err := l.Wait(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Zero(t, waited)
}

func TestHostLimiterThrottlesPerHost(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(HostConfig{RPS: 10, Burst: 1})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://shop.example/a")
	require.NoError(t, err)

	// Another host has its own bucket.
	waited, err := l.Wait(ctx, "https://other.example/a")
	require.NoError(t, err)
	require.Less(t, waited, 50*time.Millisecond)

	// Same host must wait for the next token (~100ms at 10 rps).
	waited, err = l.Wait(ctx, "https://SHOP.example/b")
	require.NoError(t, err)
	require.GreaterOrEqual(t, waited, 50*time.Millisecond)
}

func TestHostLimiterContextCanceled(t *testing.T) {
	t.Parallel()

	l := NewHostLimiter(HostConfig{RPS: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := l.Wait(ctx, "https://slow.example")
	require.NoError(t, err)
	cancel()
	_, err = l.Wait(ctx, "https://slow.example")
	require.Error(t, err)
}
