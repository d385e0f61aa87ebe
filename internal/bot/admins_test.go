package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v3"
)

type fakeLister struct {
	members []tele.ChatMember
	err     error
	calls   int
}

func (l *fakeLister) AdminsOf(*tele.Chat) ([]tele.ChatMember, error) {
	l.calls++
	return l.members, l.err
}

func TestAdminsUsesChatAdministrators(t *testing.T) {
	cfg := venueConfig([]int64{-100}, []int64{1})
	cfg.Admin.ChatAdmins = true
	lister := &fakeLister{members: []tele.ChatMember{{User: &tele.User{ID: 7}}, {}}}
	admins := NewAdmins(cfg, lister)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	admins.now = func() time.Time { return now }

	assert.True(t, admins.IsVenueAdmin(-100, 7))
	assert.False(t, admins.IsVenueAdmin(-100, 8))
	assert.False(t, admins.IsAdmin(7), "chat admins are never global admins")
	assert.Equal(t, 1, lister.calls, "cached within the ttl")

	// Unknown chats are never looked up.
	assert.False(t, admins.IsVenueAdmin(-999, 7))
	assert.Equal(t, 1, lister.calls)

	// A failed refresh keeps the stale set.
	now = now.Add(chatAdminTTL + time.Second)
	lister.err = errors.New("bad gateway")
	assert.True(t, admins.IsVenueAdmin(-100, 7))
	assert.Equal(t, 2, lister.calls)
}

func TestAdminsChatAdminsDisabled(t *testing.T) {
	cfg := venueConfig([]int64{-100}, []int64{1})
	lister := &fakeLister{members: []tele.ChatMember{{User: &tele.User{ID: 7}}}}
	admins := NewAdmins(cfg, lister)

	assert.False(t, admins.IsVenueAdmin(-100, 7))
	assert.True(t, admins.IsVenueAdmin(-100, 1))
	assert.Zero(t, lister.calls)
}
