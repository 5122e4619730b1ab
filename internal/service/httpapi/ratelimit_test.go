package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIPRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.limiter("203.0.113.1").Allow())
	require.False(t, limiter.limiter("203.0.113.1").Allow())

	now = now.Add(limiterIdleTTL / 2)
	limiter.limiter("203.0.113.2")
	require.Equal(t, 2, limiter.size())

	now = now.Add(limiterIdleTTL / 2)
	limiter.limiter("203.0.113.3")
	require.Equal(t, 2, limiter.size(), "client idle for a full TTL must be dropped")

	now = now.Add(limiterIdleTTL)
	limiter.limiter("203.0.113.3")
	require.Equal(t, 1, limiter.size())
}

func TestIPRateLimiterKeepsActiveBucket(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newIPRateLimiter(0.001, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.limiter("203.0.113.9").Allow())
	for i := 0; i < 3; i++ {
		now = now.Add(limiterIdleTTL / 2)
		require.False(t, limiter.limiter("203.0.113.9").Allow())
	}
	require.Equal(t, 1, limiter.size())
}
