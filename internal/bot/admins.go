package bot

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"venue-booking-bot/internal/config"
)

const chatAdminTTL = 5 * time.Minute

// ChatAdminLister lists the administrators of a chat.
type ChatAdminLister interface {
	AdminsOf(chat *tele.Chat) ([]tele.ChatMember, error)
}

type chatAdmins struct {
	ids     map[int64]bool
	fetched time.Time
}

// Admins resolves admin rights from configuration and, when enabled, from
// the Telegram administrators of each venue chat.
type Admins struct {
	cfg    *config.Config
	lister ChatAdminLister
	now    func() time.Time

	mu    sync.Mutex
	cache map[int64]chatAdmins
}

// NewAdmins creates an Admins resolver. lister may be nil.
func NewAdmins(cfg *config.Config, lister ChatAdminLister) *Admins {
	return &Admins{
		cfg:    cfg,
		lister: lister,
		now:    time.Now,
		cache:  make(map[int64]chatAdmins),
	}
}

// IsAdmin reports whether userID is a global admin.
func (a *Admins) IsAdmin(userID int64) bool {
	return a.cfg.IsAdmin(userID)
}

// IsVenueAdmin reports whether userID may administer venueID.
func (a *Admins) IsVenueAdmin(venueID, userID int64) bool {
	if a.cfg.IsVenueAdmin(venueID, userID) {
		return true
	}
	if a.lister == nil || !a.cfg.Admin.ChatAdmins || !a.cfg.IsVenue(venueID) {
		return false
	}
	return a.chatAdmins(venueID)[userID]
}

// chatAdmins returns the cached admin set of a venue chat, refreshing it
// when stale. A failed refresh keeps the previous set.
func (a *Admins) chatAdmins(venueID int64) map[int64]bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.cache[venueID]
	if ok && a.now().Sub(entry.fetched) < chatAdminTTL {
		return entry.ids
	}

	members, err := a.lister.AdminsOf(&tele.Chat{ID: venueID})
	if err != nil {
		log.Warn().Err(err).Int64("venue_id", venueID).Msg("Failed to fetch chat administrators")
		return entry.ids
	}

	ids := make(map[int64]bool, len(members))
	for _, m := range members {
		if m.User != nil {
			ids[m.User.ID] = true
		}
	}
	a.cache[venueID] = chatAdmins{ids: ids, fetched: a.now()}
	return ids
}
