package services

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// 限流的动作
const (
	ActionJoin        = "join"
	ActionInvite      = "invite"
	ActionCreateEvent = "create_event"
	ActionCreatePost  = "create_post"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter 按 "动作:用户" 维护令牌桶
type Limiter struct {
	mu      sync.Mutex
	perMin  map[string]int
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter perMinute 为每个动作每分钟允许的次数，未配置的动作不限流
func NewLimiter(perMinute map[string]int) *Limiter {
	return &Limiter{
		perMin:  perMinute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow 超出频率时返回 RateLimited 错误
func (l *Limiter) Allow(action string, userID uint) error {
	if l == nil {
		return nil
	}
	n := l.perMin[action]
	if n <= 0 {
		return nil
	}

	key := fmt.Sprintf("%s:%d", action, userID)
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return RateLimited()
	}
	return nil
}

// Sweep 删除长时间未使用的桶
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := l.now().Add(-idle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
