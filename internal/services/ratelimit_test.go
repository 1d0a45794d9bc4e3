package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPerActionAndUser(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(map[string]int{ActionInvite: 3})
	l.now = clock.Now

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(ActionInvite, 1))
	}
	err := l.Allow(ActionInvite, 1)
	assert.Equal(t, KindRateLimited, KindOf(err))

	// 其他用户与未配置的动作不受影响
	assert.NoError(t, l.Allow(ActionInvite, 2))
	assert.NoError(t, l.Allow(ActionCreatePost, 1))

	clock.Advance(20 * time.Second)
	assert.NoError(t, l.Allow(ActionInvite, 1))
	assert.Error(t, l.Allow(ActionInvite, 1))
}

func TestLimiterSweep(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiter(map[string]int{ActionJoin: 5})
	l.now = clock.Now

	require.NoError(t, l.Allow(ActionJoin, 1))
	clock.Advance(10 * time.Minute)
	require.NoError(t, l.Allow(ActionJoin, 2))

	assert.Equal(t, 1, l.Sweep(5*time.Minute))
	assert.Len(t, l.buckets, 1)
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Allow(ActionJoin, 1))
}
