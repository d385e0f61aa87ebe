package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"venue-booking-bot/internal/model"
)

// AccountService handles user account operations.
type AccountService struct {
	users  UserStore
	txs    TransactionStore
	admins AdminChecker
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users UserStore, txs TransactionStore, admins AdminChecker) *AccountService {
	return &AccountService{
		users:  users,
		txs:    txs,
		admins: admins,
	}
}

// EnsureUser ensures a user exists, creating one if necessary.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, userID int64, username string) (*model.UserAccount, bool, error) {
	user, created, err := s.users.GetOrCreate(ctx, userID, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}
	if created {
		log.Info().Int64("user_id", userID).Str("username", username).Msg("User account created")
	}
	return user, created, nil
}

// GetAccount retrieves a user's account.
func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.UserAccount, error) {
	return s.users.GetByID(ctx, userID)
}

// Adjust corrects a user's balance by delta. Global admins only.
// Corrections do not count towards profit.
func (s *AccountService) Adjust(ctx context.Context, admin, userID, delta int64) (*model.UserAccount, error) {
	if !s.admins.IsAdmin(admin) {
		log.Warn().Int64("user_id", admin).Int64("target_id", userID).Msg("Balance adjustment rejected: not admin")
		return nil, ErrCallerNotAdmin
	}
	if delta == 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.users.ApplyDelta(ctx, userID, delta, false)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	txType := model.TxTypeAdminAdd
	if delta < 0 {
		txType = model.TxTypeAdminSub
	}
	desc := fmt.Sprintf("adjusted by %d", admin)
	if _, err := s.txs.Create(ctx, userID, nil, delta, txType, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Int64("amount", delta).Msg("Failed to record transaction")
	}

	log.Info().Int64("admin_id", admin).Int64("user_id", userID).Int64("delta", delta).
		Int64("balance", user.Balance).Msg("Balance adjusted")
	return user, nil
}
