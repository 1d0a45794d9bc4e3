package services

import (
	"testing"

	"townsquare/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ann := f.user(t, "ann")
	bob := f.user(t, "bob")
	n := f.svc.Notifications

	n.Notify(f.ctx, ann.ID, bob.ID, models.NotificationTypeSystem, "first")
	n.Notify(f.ctx, ann.ID, bob.ID, models.NotificationTypeSystem, "second")
	n.Notify(f.ctx, ann.ID, 0, models.NotificationTypeSystem, "from the system")
	n.Notify(f.ctx, ann.ID, ann.ID, models.NotificationTypeSystem, "self")

	list, err := n.List(f.ctx, ann.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "from the system", list[0].Reason)
	assert.Nil(t, list[0].Actor)
	require.NotNil(t, list[1].Actor)
	assert.Equal(t, "bob", list[1].Actor.Username)

	require.NoError(t, n.MarkRead(f.ctx, ann.ID, list[0].ID))
	err = n.MarkRead(f.ctx, bob.ID, list[1].ID)
	assert.Equal(t, KindNotFound, kindOf(t, err))

	unread, err := n.UnreadCount(f.ctx, ann.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)

	require.NoError(t, n.MarkAllRead(f.ctx, ann.ID))
	unread, err = n.UnreadCount(f.ctx, ann.ID)
	require.NoError(t, err)
	assert.Zero(t, unread)

	require.NoError(t, n.Delete(f.ctx, ann.ID, list[2].ID))
	err = n.Delete(f.ctx, ann.ID, list[2].ID)
	assert.Equal(t, KindNotFound, kindOf(t, err))
}
