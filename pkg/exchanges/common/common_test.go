package common

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterTracksHeaderWeight(t *testing.T) {
	rl := NewRateLimiter(1200, time.Minute, 100, 10, zerolog.Nop())

	rl.UpdateFromHeader("600")
	used, limit, pct := rl.GetUsage()
	assert.Equal(t, 600, used)
	assert.Equal(t, 1200, limit)
	assert.InDelta(t, 50, pct, 1e-9)
	assert.False(t, rl.ShouldDelay())

	rl.UpdateFromHeader("1100")
	assert.True(t, rl.ShouldDelay())

	rl.UpdateFromHeader("garbage")
	used, _, _ = rl.GetUsage()
	assert.Equal(t, 1100, used)
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1200, time.Minute, 100, 1, zerolog.Nop())
	rl.UpdateFromHeader("1199")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestTimeSyncOffset(t *testing.T) {
	server := time.Now().Add(2 * time.Second).UnixMilli()
	ts := NewTimeSync(func(context.Context) (int64, error) { return server, nil }, zerolog.Nop())

	require.NoError(t, ts.Sync(context.Background()))
	assert.InDelta(t, 2000, ts.Offset(), 200)
	assert.InDelta(t, time.Now().UnixMilli()+2000, ts.Now(), 200)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, StatusNew.Terminal())
	assert.False(t, StatusPartial.Terminal())
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCanceled.Terminal())
}
