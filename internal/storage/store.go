package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-bot/internal/models"
)

// Ensure Store satisfies the UserStore interface at compile time.
var _ UserStore = (*Store)(nil)

// Store is the gorm-backed users table. Every method is a single statement.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, unavailable("get user", err)
	}
	return user, nil
}

// Insert creates a user with a zero balance. The unique index on user_id
// decides the race between concurrent inserts; the loser gets ErrAlreadyExists.
func (s *Store) Insert(ctx context.Context, userID int64, referrerID *int64) error {
	user := models.User{UserID: userID, ReferrerID: referrerID}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&user)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrAlreadyExists
		}
		return unavailable("insert user", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// IncrementBalance adds delta to the stored balance. It does not check that
// the result stays non-negative.
func (s *Store) IncrementBalance(ctx context.Context, userID int64, delta int64) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", userID).
		UpdateColumn("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return unavailable("increment balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitIfSufficient subtracts amount only when the balance covers it.
// It returns false with no error when the balance is too low.
func (s *Store) DebitIfSufficient(ctx context.Context, userID int64, amount int64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, unavailable("debit balance", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// TopBalances returns up to limit users by balance descending, ties by user_id.
func (s *Store) TopBalances(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 {
		return []models.User{}, nil
	}

	var users []models.User
	err := s.db.WithContext(ctx).
		Order("balance DESC").
		Order("user_id ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, unavailable("top balances", err)
	}
	return users, nil
}

func (s *Store) CountReferrals(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("referrer_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, unavailable("count referrals", err)
	}
	return count, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
