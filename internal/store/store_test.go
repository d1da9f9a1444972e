package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCreateUserByWalletIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	u1, err := s.GetOrCreateUserByWallet("wallet-abc", "alice")
	require.NoError(t, err)
	u2, err := s.GetOrCreateUserByWallet("wallet-abc", "someone-else")
	require.NoError(t, err)

	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, "alice", u2.Name, "first writer wins on name")

	_, err = s.GetUserByWallet("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceCreditAndConditionalDebit(t *testing.T) {
	s := openTestStore(t)
	u, err := s.GetOrCreateUserByWallet("w", "")
	require.NoError(t, err)

	balance, err := s.Balance(u.ID, "SOL")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	require.NoError(t, s.Credit(u.ID, "SOL", 1000))
	require.NoError(t, s.Credit(u.ID, "SOL", 500))

	balance, _ = s.Balance(u.ID, "SOL")
	assert.Equal(t, int64(1500), balance)

	ok, err := s.DebitIf(u.ID, "SOL", 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	// Balance is now zero; further debits refuse without mutating.
	ok, err = s.DebitIf(u.ID, "SOL", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, _ = s.Balance(u.ID, "SOL")
	assert.Equal(t, int64(0), balance)
}

func TestDebitIfMissingRowRefuses(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.DebitIf(42, "SOL", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDepositTxIDIsUnique(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.GetOrCreateUserByWallet("w", "")

	_, err := s.CreateDeposit(u.ID, "SOL", 100, "tx-1", DepositConfirmed)
	require.NoError(t, err)

	_, err = s.CreateDeposit(u.ID, "SOL", 100, "tx-1", DepositConfirmed)
	assert.Error(t, err, "duplicate tx id must fail")

	d, err := s.GetDepositByTx("tx-1")
	require.NoError(t, err)
	assert.Equal(t, DepositConfirmed, d.Status)
	assert.Equal(t, u.ID, d.UserID)
}

func TestPayoutLifecycle(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.GetOrCreateUserByWallet("w", "")

	p, err := s.CreatePayout("table-low-1", u.ID, PayoutCashOut, 750_000)
	require.NoError(t, err)
	assert.Equal(t, PayoutPending, p.Status)

	// The open payout is findable while non-terminal.
	found, err := s.FindNonTerminalPayout("table-low-1", u.ID, PayoutCashOut)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	require.NoError(t, s.UpdatePayout(p.ID, PayoutSent, "tx-out-1"))
	found, err = s.FindNonTerminalPayout("table-low-1", u.ID, PayoutCashOut)
	require.NoError(t, err)
	assert.Equal(t, PayoutSent, found.Status)
	assert.Equal(t, "tx-out-1", found.TxID.String)

	require.NoError(t, s.UpdatePayout(p.ID, PayoutConfirmed, ""))
	_, err = s.FindNonTerminalPayout("table-low-1", u.ID, PayoutCashOut)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNonTerminalPayouts(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.GetOrCreateUserByWallet("w", "")

	p1, _ := s.CreatePayout("r1", u.ID, PayoutCashOut, 100)
	p2, _ := s.CreatePayout("r2", u.ID, PayoutRake, 50)
	require.NoError(t, s.UpdatePayout(p2.ID, PayoutConfirmed, "tx"))

	open, err := s.ListNonTerminalPayouts()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p1.ID, open[0].ID)
}

func TestRoomSeatsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	seats := []SeatRecord{
		{PlayerID: "p1", Name: "Alice", Chips: 1_000_000, SeatIndex: 0},
		{PlayerID: "p2", Name: "Bob", Chips: 2_000_000, SeatIndex: 3},
	}
	require.NoError(t, s.SaveRoomSeats("table-low-1", seats))

	loaded, err := s.LoadRoomSeats("table-low-1")
	require.NoError(t, err)
	assert.Equal(t, seats, loaded)

	// Overwrite replaces the document.
	require.NoError(t, s.SaveRoomSeats("table-low-1", seats[:1]))
	loaded, _ = s.LoadRoomSeats("table-low-1")
	assert.Len(t, loaded, 1)

	empty, err := s.LoadRoomSeats("never-saved")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionExpiry(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.GetOrCreateUserByWallet("w", "")

	now := time.Now()
	require.NoError(t, s.CreateSession("tok", u.ID, now.Add(time.Hour)))

	sess, err := s.GetSession("tok", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)

	_, err = s.GetSession("tok", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetSession("unknown", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordHandResult(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordHandResult("table-low-1", "hand-1", map[string]any{"pot": 80}))
}

func TestWithdrawal(t *testing.T) {
	s := openTestStore(t)
	u, _ := s.GetOrCreateUserByWallet("w", "")

	w, err := s.CreateWithdrawal(u.ID, "SOL", 500, "dest-wallet")
	require.NoError(t, err)
	assert.Equal(t, PayoutPending, w.Status)
}
