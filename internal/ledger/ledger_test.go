package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"referral-bot/internal/database"
	"referral-bot/internal/lock"
	"referral-bot/internal/models"
	"referral-bot/internal/storage"
)

type members map[int64]bool

func (m members) IsMember(_ context.Context, userID int64) bool { return m[userID] }

type everyone struct{}

func (everyone) IsMember(context.Context, int64) bool { return true }

func newTestLedger(t *testing.T, m MembershipChecker) (*Ledger, *storage.Store) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=5000"
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	store := storage.NewStore(db)
	return New(store, m, lock.NewKeyedMutex(), Options{}), store
}

func ptr(v int64) *int64 { return &v }

func balanceOf(t *testing.T, l *Ledger, userID int64) int64 {
	t.Helper()
	b, err := l.GetBalance(t.Context(), userID)
	require.NoError(t, err)
	return b
}

func TestJoinRejectsNonMembers(t *testing.T) {
	l, store := newTestLedger(t, members{1: true})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	require.NoError(t, err)

	for _, ref := range []*int64{nil, ptr(1)} {
		_, err := l.Join(ctx, 2, ref)
		assert.ErrorIs(t, err, ErrNotSubscribed)
	}

	_, err = store.Get(ctx, 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, balanceOf(t, l, 1))
}

func TestJoinCreditsReferrerOnce(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	res, err := l.Join(ctx, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, Joined, res.Status)
	assert.False(t, res.Credited)

	res, err = l.Join(ctx, 200, ptr(100))
	require.NoError(t, err)
	assert.Equal(t, Joined, res.Status)
	assert.True(t, res.Credited)

	u, err := store.Get(ctx, 200)
	require.NoError(t, err)
	require.NotNil(t, u.ReferrerID)
	assert.Equal(t, int64(100), *u.ReferrerID)
	assert.Zero(t, u.Balance)
	assert.Equal(t, int64(2), balanceOf(t, l, 100))

	res, err = l.Join(ctx, 200, ptr(100))
	require.NoError(t, err)
	assert.Equal(t, AlreadyJoined, res.Status)
	assert.False(t, res.Credited)
	assert.Equal(t, int64(2), balanceOf(t, l, 100))
}

func TestJoinUnknownReferrerSkipsCredit(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	res, err := l.Join(ctx, 5, ptr(999))
	require.NoError(t, err)
	assert.Equal(t, Joined, res.Status)
	assert.False(t, res.Credited)

	u, err := store.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, u.ReferrerID)
	assert.Equal(t, int64(999), *u.ReferrerID)

	_, err = store.Get(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJoinSelfReferralIgnored(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	res, err := l.Join(ctx, 7, ptr(7))
	require.NoError(t, err)
	assert.Equal(t, Joined, res.Status)
	assert.False(t, res.Credited)

	u, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, u.ReferrerID)
	assert.Zero(t, u.Balance)
}

func TestJoinConcurrentSameUserCreditsOnce(t *testing.T) {
	l, _ := newTestLedger(t, everyone{})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Join(ctx, 2, ptr(1))
			if !assert.NoError(t, err) {
				return
			}
			if res.Status == Joined {
				mu.Lock()
				joined++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.Equal(t, int64(2), balanceOf(t, l, 1))
}

func TestGetBalanceMissingUser(t *testing.T) {
	l, _ := newTestLedger(t, everyone{})
	assert.Zero(t, balanceOf(t, l, 12345))
}

func TestWithdrawBelowThreshold(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	require.NoError(t, err)
	require.NoError(t, store.IncrementBalance(ctx, 1, 99))

	_, err = l.Withdraw(ctx, 1)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(99), balanceOf(t, l, 1))

	_, err = l.Withdraw(ctx, 404)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestWithdrawAccepted(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	require.NoError(t, err)
	require.NoError(t, store.IncrementBalance(ctx, 1, 150))

	w, err := l.Withdraw(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, w.RequestID)
	assert.Equal(t, int64(1), w.UserID)
	assert.Equal(t, int64(100), w.Amount)
	assert.Equal(t, int64(50), w.Remaining)
	assert.Equal(t, int64(50), balanceOf(t, l, 1))
}

func TestWithdrawConcurrentNeverOverdraws(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	require.NoError(t, err)
	require.NoError(t, store.IncrementBalance(ctx, 1, 250))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(ctx, 1)
			switch {
			case err == nil:
				mu.Lock()
				accepted++
				mu.Unlock()
			case !errors.Is(err, ErrInsufficientBalance):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	assert.Equal(t, int64(50), balanceOf(t, l, 1))
}

func TestLeaderboard(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	for id := int64(1); id <= 12; id++ {
		_, err := l.Join(ctx, id, nil)
		require.NoError(t, err)
		require.NoError(t, store.IncrementBalance(ctx, id, id*3))
	}

	entries, err := l.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, entries[i-1].Balance, e.Balance)
		}
	}
	assert.Equal(t, Entry{Rank: 1, UserID: 12, Balance: 36}, entries[0])

	entries, err = l.Leaderboard(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestReferralScenario(t *testing.T) {
	l, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	_, err := l.Join(ctx, 100, nil)
	require.NoError(t, err)
	u, err := store.Get(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, u.ReferrerID)
	assert.Zero(t, u.Balance)

	_, err = l.Join(ctx, 200, ptr(100))
	require.NoError(t, err)
	assert.Equal(t, int64(2), balanceOf(t, l, 100))

	n, err := l.Referrals(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Withdraw(ctx, 100)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(2), balanceOf(t, l, 100))
}

type failingStore struct{ storage.UserStore }

func (failingStore) Get(context.Context, int64) (models.User, error) {
	return models.User{}, storage.ErrUnavailable
}

func TestStoreFailuresPropagate(t *testing.T) {
	l := New(failingStore{}, everyone{}, nil, Options{})
	ctx := t.Context()

	_, err := l.Join(ctx, 1, nil)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = l.GetBalance(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = l.Withdraw(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

// creditingStore adds a referral credit between the balance check and the
// debit, the window a concurrent referral can land in.
type creditingStore struct {
	*storage.Store
	credit int64
}

func (c creditingStore) DebitIfSufficient(ctx context.Context, userID int64, amount int64) (bool, error) {
	if err := c.Store.IncrementBalance(ctx, userID, c.credit); err != nil {
		return false, err
	}
	return c.Store.DebitIfSufficient(ctx, userID, amount)
}

func TestWithdrawRemainingIncludesConcurrentCredit(t *testing.T) {
	_, store := newTestLedger(t, everyone{})
	ctx := t.Context()

	require.NoError(t, store.Insert(ctx, 1, nil))
	require.NoError(t, store.IncrementBalance(ctx, 1, 150))

	l := New(creditingStore{Store: store, credit: 2}, everyone{}, nil, Options{})

	w, err := l.Withdraw(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(52), w.Remaining)
	assert.Equal(t, int64(52), balanceOf(t, l, 1))
}

func TestJoinStatusString(t *testing.T) {
	assert.Equal(t, "joined", Joined.String())
	assert.Equal(t, "already_joined", AlreadyJoined.String())
	assert.Equal(t, "unknown", JoinStatus(0).String())
}
