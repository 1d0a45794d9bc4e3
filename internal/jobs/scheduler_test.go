package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"townsquare/internal/db"
	"townsquare/internal/lease"
	"townsquare/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) (*Scheduler, *lease.Manager, *services.Limiter) {
	t.Helper()
	conn, err := db.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	leases := lease.NewManager(conn)
	limiter := services.NewLimiter(map[string]int{services.ActionJoin: 5})
	svc := services.New(services.Options{DB: conn, Leases: leases, Limiter: limiter})
	return New(svc, leases, limiter), leases, limiter
}

func TestStartRegistersJobs(t *testing.T) {
	s, _, _ := newScheduler(t)
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Len(t, s.cron.Entries(), 3)
}

func TestSweepRemovesExpiredLeases(t *testing.T) {
	s, leases, _ := newScheduler(t)
	ctx := context.Background()

	past := leases.WithClock(func() time.Time { return time.Now().UTC().Add(-time.Hour) })
	_, err := past.Acquire(ctx, "document:1", "user:1", time.Minute)
	require.NoError(t, err)
	_, err = leases.Acquire(ctx, "document:2", "user:2", time.Minute)
	require.NoError(t, err)

	s.sweep(ctx)

	_, held, err := leases.Current(ctx, "document:1")
	require.NoError(t, err)
	assert.False(t, held)
	_, held, err = leases.Current(ctx, "document:2")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestRunRecoversPanics(t *testing.T) {
	s, _, _ := newScheduler(t)
	assert.NotPanics(t, func() {
		s.run("boom", func(context.Context) { panic("boom") })
	})
	assert.NotPanics(t, func() {
		s.run("reminders", s.sendReminders)
		s.run("reconcile", s.reconcile)
	})
}
