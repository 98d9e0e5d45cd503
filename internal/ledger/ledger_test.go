package ledger_test

import (
	"testing"

	"github.com/ksred/perp-api/internal/errs"
	"github.com/ksred/perp-api/internal/ledger"
	"github.com/ksred/perp-api/internal/testutil"
	"github.com/ksred/perp-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount() *types.Account {
	return &types.Account{
		AccountID: "acct-1",
		Total:     types.StartingBalance,
		Locked:    0,
		Available: types.StartingBalance,
	}
}

func assertInvariant(t *testing.T, acct *types.Account) {
	t.Helper()
	assert.GreaterOrEqual(t, acct.Locked, 0.0)
	assert.InDelta(t, acct.Total-acct.Locked, acct.Available, 1e-9)
}

func TestReserve(t *testing.T) {
	acct := newAccount()

	require.NoError(t, ledger.Reserve(acct, 1500))
	assert.InDelta(t, 10000.0, acct.Total, 1e-9)
	assert.InDelta(t, 1500.0, acct.Locked, 1e-9)
	assert.InDelta(t, 8500.0, acct.Available, 1e-9)
	assertInvariant(t, acct)
}

func TestReserveInsufficientBalance(t *testing.T) {
	acct := newAccount()

	err := ledger.Reserve(acct, 10000.01)
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	// A failed reserve must not move anything.
	assert.InDelta(t, 10000.0, acct.Total, 1e-9)
	assert.InDelta(t, 0.0, acct.Locked, 1e-9)
	assert.InDelta(t, 10000.0, acct.Available, 1e-9)
}

func TestReleaseClampsAtLocked(t *testing.T) {
	acct := newAccount()
	require.NoError(t, ledger.Reserve(acct, 100))

	ledger.Release(acct, 250)

	assert.InDelta(t, 0.0, acct.Locked, 1e-9)
	assert.InDelta(t, 10000.0, acct.Available, 1e-9)
	assertInvariant(t, acct)
}

func TestRealize(t *testing.T) {
	acct := newAccount()
	require.NoError(t, ledger.Reserve(acct, 500))

	ledger.Realize(acct, -125)

	assert.InDelta(t, 9875.0, acct.Total, 1e-9)
	assert.InDelta(t, 500.0, acct.Locked, 1e-9)
	assert.InDelta(t, 9375.0, acct.Available, 1e-9)
	assertInvariant(t, acct)

	ledger.Realize(acct, 200)
	assert.InDelta(t, 10075.0, acct.Total, 1e-9)
	assertInvariant(t, acct)
}

func TestSettlementSequencePreservesInvariant(t *testing.T) {
	// Full round trip of a losing trade: reserve margin, release it at
	// settlement, realize the loss.
	acct := newAccount()

	require.NoError(t, ledger.Reserve(acct, 50))
	ledger.Release(acct, 50)
	ledger.Realize(acct, -50)

	assert.InDelta(t, 9950.0, acct.Total, 1e-9)
	assert.InDelta(t, 0.0, acct.Locked, 1e-9)
	assert.InDelta(t, 9950.0, acct.Available, 1e-9)
	assertInvariant(t, acct)
}

func TestHistoryEntrySnapshotsAvailable(t *testing.T) {
	acct := newAccount()
	require.NoError(t, ledger.Reserve(acct, 50))

	tradeID := "TRD_test"
	entry := ledger.HistoryEntry(acct, types.ChangePositionOpened, -50, &tradeID)

	assert.Equal(t, acct.AccountID, entry.AccountID)
	assert.Equal(t, types.ChangePositionOpened, entry.ChangeType)
	assert.InDelta(t, -50.0, entry.Amount, 1e-9)
	assert.InDelta(t, 9950.0, entry.AvailableAfter, 1e-9)
	require.NotNil(t, entry.TradeID)
	assert.Equal(t, tradeID, *entry.TradeID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestEnsureAccountIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := ledger.NewService(db)

	acct, err := svc.EnsureAccount("acct-1")
	require.NoError(t, err)
	assert.InDelta(t, types.StartingBalance, acct.Total, 1e-9)
	assert.InDelta(t, types.StartingBalance, acct.Available, 1e-9)

	// Mutate the stored balances, then ensure again. The existing account
	// must come back untouched, not reset to the starting balance.
	acct.Total = 8000
	acct.Available = 7500
	acct.Locked = 500
	require.NoError(t, db.Save(acct).Error)

	again, err := svc.EnsureAccount("acct-1")
	require.NoError(t, err)
	assert.InDelta(t, 8000.0, again.Total, 1e-9)
	assert.InDelta(t, 500.0, again.Locked, 1e-9)
	assert.InDelta(t, 7500.0, again.Available, 1e-9)
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := ledger.NewService(db)

	_, err := svc.GetBalance("nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetHistoryNewestFirst(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := ledger.NewService(db)

	acct, err := svc.EnsureAccount("acct-1")
	require.NoError(t, err)

	first := ledger.HistoryEntry(acct, types.ChangePositionOpened, -50, nil)
	require.NoError(t, ledger.AppendHistory(db, first))
	second := ledger.HistoryEntry(acct, types.ChangePositionClosed, 50, nil)
	second.Timestamp = first.Timestamp.Add(1)
	require.NoError(t, ledger.AppendHistory(db, second))

	entries, err := svc.GetHistory("acct-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, types.ChangePositionClosed, entries[0].ChangeType)
	assert.Equal(t, types.ChangePositionOpened, entries[1].ChangeType)
}
