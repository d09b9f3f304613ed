package storage

import (
	"context"
	"errors"

	"referral-bot/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrUnavailable wraps failures of the underlying database.
var ErrUnavailable = errors.New("store unavailable")

// UserStore captures the persistence operations the ledger needs.
type UserStore interface {
	Get(ctx context.Context, userID int64) (models.User, error)
	Insert(ctx context.Context, userID int64, referrerID *int64) error
	IncrementBalance(ctx context.Context, userID int64, delta int64) error
	DebitIfSufficient(ctx context.Context, userID int64, amount int64) (bool, error)
	TopBalances(ctx context.Context, limit int) ([]models.User, error)
	CountReferrals(ctx context.Context, userID int64) (int64, error)
}
