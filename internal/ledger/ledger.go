package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"referral-bot/internal/lock"
	"referral-bot/internal/models"
	"referral-bot/internal/storage"
)

const (
	DefaultReferralReward    int64 = 2
	DefaultWithdrawThreshold int64 = 100
	DefaultLeaderboardSize         = 10
)

// ErrNotSubscribed is returned by Join when the user is not a channel member.
var ErrNotSubscribed = errors.New("user is not subscribed to the channel")

// ErrInsufficientBalance is returned by Withdraw below the threshold.
var ErrInsufficientBalance = errors.New("insufficient balance")

// MembershipChecker answers whether a user may use the bot.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64) bool
}

type JoinStatus int

const (
	Joined JoinStatus = iota + 1
	AlreadyJoined
)

func (s JoinStatus) String() string {
	switch s {
	case Joined:
		return "joined"
	case AlreadyJoined:
		return "already_joined"
	default:
		return "unknown"
	}
}

type JoinResult struct {
	Status JoinStatus
	UserID int64
	// Credited is set when the referrer received the reward.
	Credited bool
}

// Withdrawal is an accepted payout request awaiting manual fulfilment.
type Withdrawal struct {
	RequestID string
	UserID    int64
	Amount    int64
	Remaining int64
}

// Entry is one leaderboard row. Rank starts at 1.
type Entry struct {
	Rank    int
	UserID  int64
	Balance int64
}

type Options struct {
	ReferralReward    int64
	WithdrawThreshold int64
	LeaderboardSize   int
}

type Ledger struct {
	store   storage.UserStore
	members MembershipChecker
	locker  lock.Locker
	opts    Options
}

func New(store storage.UserStore, members MembershipChecker, locker lock.Locker, opts Options) *Ledger {
	if opts.ReferralReward <= 0 {
		opts.ReferralReward = DefaultReferralReward
	}
	if opts.WithdrawThreshold <= 0 {
		opts.WithdrawThreshold = DefaultWithdrawThreshold
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = DefaultLeaderboardSize
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Ledger{store: store, members: members, locker: locker, opts: opts}
}

func (l *Ledger) WithdrawThreshold() int64 { return l.opts.WithdrawThreshold }

func (l *Ledger) LeaderboardSize() int { return l.opts.LeaderboardSize }

// Join registers the user on first contact and credits the referrer once.
// The referrer credit is best effort: a missing referrer is skipped.
func (l *Ledger) Join(ctx context.Context, userID int64, referrerID *int64) (JoinResult, error) {
	result := JoinResult{UserID: userID}

	if !l.members.IsMember(ctx, userID) {
		return result, ErrNotSubscribed
	}

	if referrerID != nil && *referrerID == userID {
		log.Printf("User %d tried to refer themselves, ignoring referrer", userID)
		referrerID = nil
	}

	unlock, err := l.locker.Lock(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	_, err = l.store.Get(ctx, userID)
	switch {
	case err == nil:
		result.Status = AlreadyJoined
		log.Printf("User %d start: %s", userID, result.Status)
		return result, nil
	case !errors.Is(err, storage.ErrNotFound):
		return result, fmt.Errorf("get user %d: %w", userID, err)
	}

	err = l.store.Insert(ctx, userID, referrerID)
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Another process won the insert; the credit belongs to it.
		result.Status = AlreadyJoined
		log.Printf("User %d start: %s (lost insert race)", userID, result.Status)
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("insert user %d: %w", userID, err)
	}
	result.Status = Joined

	if referrerID == nil {
		log.Printf("User %d start: %s", userID, result.Status)
		return result, nil
	}

	// Not retried: a crash or failure here leaves the referrer uncredited.
	err = l.store.IncrementBalance(ctx, *referrerID, l.opts.ReferralReward)
	switch {
	case err == nil:
		result.Credited = true
		log.Printf("User %d start: %s, invited by %d, credited %d", userID, result.Status, *referrerID, l.opts.ReferralReward)
	case errors.Is(err, storage.ErrNotFound):
		log.Printf("User %d joined with unknown referrer %d, credit skipped", userID, *referrerID)
	default:
		log.Printf("Failed to credit referrer %d for user %d: %v", *referrerID, userID, err)
	}

	return result, nil
}

// GetBalance returns 0 for users without a record.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	user, err := l.store.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %d: %w", userID, err)
	}
	return user.Balance, nil
}

// Withdraw reserves the threshold amount from the balance. Paying it out is
// left to an administrator.
func (l *Ledger) Withdraw(ctx context.Context, userID int64) (Withdrawal, error) {
	unlock, err := l.locker.Lock(ctx, userID)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("lock user %d: %w", userID, err)
	}
	defer unlock()

	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return Withdrawal{}, err
	}
	if balance < l.opts.WithdrawThreshold {
		return Withdrawal{}, ErrInsufficientBalance
	}

	ok, err := l.store.DebitIfSufficient(ctx, userID, l.opts.WithdrawThreshold)
	if err != nil {
		return Withdrawal{}, fmt.Errorf("debit user %d: %w", userID, err)
	}
	if !ok {
		return Withdrawal{}, ErrInsufficientBalance
	}

	// Credits from referrals do not take this user's lock, so the balance
	// may have grown since it was read above.
	remaining, err := l.GetBalance(ctx, userID)
	if err != nil {
		log.Printf("Failed to read balance of %d after withdrawal: %v", userID, err)
		remaining = balance - l.opts.WithdrawThreshold
	}

	w := Withdrawal{
		RequestID: uuid.NewString(),
		UserID:    userID,
		Amount:    l.opts.WithdrawThreshold,
		Remaining: remaining,
	}
	log.Printf("Withdrawal %s accepted for user %d: %d", w.RequestID, userID, w.Amount)
	return w, nil
}

// Leaderboard returns up to limit users by balance. A non-positive limit
// uses the configured size.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = l.opts.LeaderboardSize
	}

	users, err := l.store.TopBalances(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return rank(users), nil
}

func rank(users []models.User) []Entry {
	entries := make([]Entry, 0, len(users))
	for i, u := range users {
		entries = append(entries, Entry{Rank: i + 1, UserID: u.UserID, Balance: u.Balance})
	}
	return entries
}

// Referrals counts users who joined with userID as their referrer.
func (l *Ledger) Referrals(ctx context.Context, userID int64) (int64, error) {
	n, err := l.store.CountReferrals(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("referrals %d: %w", userID, err)
	}
	return n, nil
}
