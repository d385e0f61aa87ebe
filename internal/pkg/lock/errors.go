package lock

import (
	"venue-booking-bot/internal/pkg/apperr"
)

// ErrLockTimeout is returned when the key stays busy until the context ends.
var ErrLockTimeout = apperr.New(apperr.ErrUnavailable, "too many requests for this slot, try again")
