package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	balancesSQL  = `SELECT saldo_sacavel, saldo_bonus FROM organizations`
	lockSQL      = `SELECT saldo_sacavel, saldo_bonus FROM organizations WHERE id = \$1 FOR UPDATE`
	debitSQL     = `UPDATE organizations\s+SET saldo_bonus = saldo_bonus - \$2`
	entrySQL     = `SELECT id, organization_id, user_id, valor`
	insertSQL    = `INSERT INTO faturamento`
	savepointSQL = `SAVEPOINT billing_entry`
	releaseSQL   = `RELEASE SAVEPOINT billing_entry`
	restoreSQL   = `ROLLBACK TO SAVEPOINT billing_entry`
)

type recordingIndexer struct {
	entries []models.BillingEntry
	err     error
}

func (r *recordingIndexer) IndexEntry(_ context.Context, entry models.BillingEntry) error {
	r.entries = append(r.entries, entry)
	return r.err
}

type ledgerFixture struct {
	ledger  *Ledger
	mock    sqlmock.Sqlmock
	redis   *miniredis.Miniredis
	indexer *recordingIndexer
}

func setupLedger(t *testing.T) *ledgerFixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	indexer := &recordingIndexer{}
	ledger := NewLedger(db, redis.NewClient(&redis.Options{Addr: mr.Addr()}), indexer, Config{
		BalanceCacheTTL:   time.Minute,
		MaxDeductAttempts: 3,
	}, logger.NewTestLogger(t))
	ledger.newID = func() string { return "entry-1" }
	ledger.now = func() time.Time { return testNow }

	return &ledgerFixture{ledger: ledger, mock: mock, redis: mr, indexer: indexer}
}

func balanceRows(spendable, bonus string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"saldo_sacavel", "saldo_bonus"}).AddRow(spendable, bonus)
}

func expectEntry(mock sqlmock.Sqlmock, amount, category, description string) *sqlmock.ExpectedExec {
	return mock.ExpectExec(insertSQL).WithArgs(
		"entry-1", "org-1", "user-1", amount, "paid", category, description, "saldo_interno", testNow,
	)
}

// expectDebit expects a full successful deduction transaction against a row holding
// spendable/bonus, debiting bonusTaken/spendableTaken.
func expectDebit(mock sqlmock.Sqlmock, spendable, bonus, bonusTaken, spendableTaken, amount, category, description string) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockSQL).WithArgs("org-1").WillReturnRows(balanceRows(spendable, bonus))
	mock.ExpectExec(debitSQL).WithArgs("org-1", bonusTaken, spendableTaken).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	expectEntry(mock, amount, category, description).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(releaseSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
}

func entryRows(e models.BillingEntry) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "organization_id", "user_id", "valor", "status", "categoria", "descricao", "metodo_pagamento", "created_at",
	}).AddRow(e.ID, e.OrganizationID, e.UserID, e.Amount.String(), e.Status, e.Category, e.Description, e.PaymentMethod, e.CreatedAt)
}

// ==========================
// Deduct
// ==========================

func TestDeduct_DrainsBonusBeforeSpendable(t *testing.T) {
	f := setupLedger(t)
	expectDebit(f.mock, "100", "30", "30", "20", "-50", "consumo", "Recurso de multa")

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
		Description:    "Recurso de multa",
	})

	require.NoError(t, err)
	assert.True(t, dec("30").Equal(result.BonusDebited))
	assert.True(t, dec("20").Equal(result.SpendableDebited))
	assert.True(t, dec("80").Equal(result.Balances.Spendable))
	assert.True(t, dec("0").Equal(result.Balances.Bonus))
	assert.False(t, result.AuditQueued)
	assert.False(t, result.Replayed)

	assert.Equal(t, "entry-1", result.Entry.ID)
	assert.True(t, dec("-50").Equal(result.Entry.Amount))
	assert.Equal(t, models.BillingStatusPaid, result.Entry.Status)
	assert.Equal(t, models.DefaultBillingCategory, result.Entry.Category)
	assert.Equal(t, models.PaymentMethodInternalBalance, result.Entry.PaymentMethod)

	require.Len(t, f.indexer.entries, 1)
	assert.Equal(t, "entry-1", f.indexer.entries[0].ID)

	cached, ok, err := f.ledger.cache.Get(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, dec("80").Equal(cached.Spendable))

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_BonusCoversAmount(t *testing.T) {
	f := setupLedger(t)
	expectDebit(f.mock, "100", "80", "50", "0", "-50", "parecer", "")

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
		Category:       "parecer",
	})

	require.NoError(t, err)
	assert.True(t, dec("100").Equal(result.Balances.Spendable))
	assert.True(t, dec("30").Equal(result.Balances.Bonus))
	assert.Equal(t, "parecer", result.Entry.Category)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_InsufficientBalanceWritesNothing(t *testing.T) {
	f := setupLedger(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("10", "5"))
	f.mock.ExpectRollback()

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
	})

	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientBalance))
	assert.Equal(t, "Saldo insuficiente", apperrors.Normalize(err).Message)
	assert.Empty(t, f.indexer.entries)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_SplitsFromLockedRowNotCache(t *testing.T) {
	f := setupLedger(t)
	// The cache predates a bonus top-up made elsewhere.
	require.NoError(t, f.ledger.cache.Set(context.Background(), "org-1", Balances{Spendable: dec("100"), Bonus: dec("0")}))
	expectDebit(f.mock, "100", "50", "50", "0", "-50", "consumo", "")

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
	})

	require.NoError(t, err)
	assert.True(t, dec("50").Equal(result.BonusDebited))
	assert.True(t, result.SpendableDebited.IsZero())
	assert.True(t, dec("100").Equal(result.Balances.Spendable))
	assert.True(t, result.Balances.Bonus.IsZero())

	cached, ok, err := f.ledger.cache.Get(context.Background(), "org-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cached.Bonus.IsZero())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_StaleLowCacheDoesNotReject(t *testing.T) {
	f := setupLedger(t)
	require.NoError(t, f.ledger.cache.Set(context.Background(), "org-1", Balances{Spendable: dec("10"), Bonus: dec("0")}))
	expectDebit(f.mock, "10", "100", "50", "0", "-50", "consumo", "")

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
	})

	require.NoError(t, err)
	assert.True(t, dec("50").Equal(result.Balances.Bonus))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_ConflictIsRetried(t *testing.T) {
	f := setupLedger(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	f.mock.ExpectRollback()
	expectDebit(f.mock, "60", "10", "10", "40", "-50", "consumo", "")

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
	})

	require.NoError(t, err)
	assert.True(t, dec("10").Equal(result.BonusDebited))
	assert.True(t, dec("40").Equal(result.SpendableDebited))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_GivesUpAfterMaxAttempts(t *testing.T) {
	f := setupLedger(t)

	for i := 0; i < 3; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectQuery(lockSQL).WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
		f.mock.ExpectRollback()
	}

	_, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("1"),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_OtherStoreErrorsAreNotRetried(t *testing.T) {
	f := setupLedger(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnError(errors.New("connection reset"))
	f.mock.ExpectRollback()

	_, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("1"),
	})

	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_AuditFailureIsQueuedNotPropagated(t *testing.T) {
	f := setupLedger(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("100", "0"))
	f.mock.ExpectExec(debitSQL).WithArgs("org-1", "0", "12.5").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	expectEntry(f.mock, "-12.5", "consumo", "Consulta").WillReturnError(errors.New("relation faturamento is locked"))
	f.mock.ExpectExec(restoreSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectCommit()

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("12.50"),
		Description:    "Consulta",
	})

	require.NoError(t, err)
	assert.True(t, result.AuditQueued)
	assert.True(t, dec("87.5").Equal(result.Balances.Spendable))
	assert.Empty(t, f.indexer.entries)

	queued, err := f.redis.List(DefaultAuditQueueKey)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	pending, ok, err := f.ledger.audit.Pending(context.Background(), "entry-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, dec("-12.5").Equal(pending.Amount))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_SavepointFailureAbortsDebit(t *testing.T) {
	f := setupLedger(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("100", "0"))
	f.mock.ExpectExec(debitSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	expectEntry(f.mock, "-10", "consumo", "").WillReturnError(errors.New("server closed the connection"))
	f.mock.ExpectExec(restoreSQL).WillReturnError(errors.New("server closed the connection"))
	f.mock.ExpectRollback()

	result, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("10"),
	})

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.False(t, f.redis.Exists(DefaultAuditQueueKey))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_SameEntryIDDebitsOnce(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	req := DeductRequest{OrganizationID: "org-1", UserID: "user-1", Amount: dec("50"), EntryID: "entry-1"}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("100", "30"))
	f.mock.ExpectQuery(entrySQL).WithArgs("entry-1").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	f.mock.ExpectExec(debitSQL).WithArgs("org-1", "30", "20").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	expectEntry(f.mock, "-50", "consumo", "").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(releaseSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectCommit()

	first, err := f.ledger.Deduct(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// The redelivered job sees its own entry under the row lock and writes nothing.
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("80", "0"))
	f.mock.ExpectQuery(entrySQL).WithArgs("entry-1").WillReturnRows(entryRows(first.Entry))
	f.mock.ExpectCommit()

	second, err := f.ledger.Deduct(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, "entry-1", second.Entry.ID)
	assert.True(t, dec("-50").Equal(second.Entry.Amount))
	assert.True(t, dec("80").Equal(second.Balances.Spendable))
	assert.True(t, second.BonusDebited.IsZero())
	assert.Len(t, f.indexer.entries, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_SameEntryIDFoundInAuditQueue(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("entry-1")))

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(balanceRows("50", "0"))
	f.mock.ExpectQuery(entrySQL).WithArgs("entry-1").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	f.mock.ExpectCommit()

	result, err := f.ledger.Deduct(ctx, DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
		EntryID:        "entry-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.True(t, result.AuditQueued)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeduct_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		req     DeductRequest
		wantErr error
	}{
		{"missing organization", DeductRequest{UserID: "user-1", Amount: dec("1")}, apperrors.ErrContextUnresolved},
		{"missing user", DeductRequest{OrganizationID: "org-1", Amount: dec("1")}, apperrors.ErrContextUnresolved},
		{"zero amount", DeductRequest{OrganizationID: "org-1", UserID: "user-1", Amount: dec("0")}, apperrors.ErrInvalidAmount},
		{"negative amount", DeductRequest{OrganizationID: "org-1", UserID: "user-1", Amount: dec("-5")}, apperrors.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupLedger(t)
			_, err := f.ledger.Deduct(context.Background(), tt.req)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestDeduct_UnknownOrganization(t *testing.T) {
	f := setupLedger(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(lockSQL).WillReturnRows(sqlmock.NewRows([]string{"saldo_sacavel", "saldo_bonus"}))
	f.mock.ExpectRollback()

	_, err := f.ledger.Deduct(context.Background(), DeductRequest{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("1"),
	})

	assert.True(t, errors.Is(err, apperrors.ErrOrganizationNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

// ==========================
// CheckBalance
// ==========================

func TestCheckBalance_LoadsAndCaches(t *testing.T) {
	f := setupLedger(t)
	f.mock.ExpectQuery(balancesSQL).WithArgs("org-1").WillReturnRows(balanceRows("100", "30"))

	ok, b, err := f.ledger.CheckBalance(context.Background(), "org-1", dec("130"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, dec("30").Equal(b.Bonus))

	// Served from cache; no second query expected.
	ok, _, err = f.ledger.CheckBalance(context.Background(), "org-1", dec("131"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckBalance_StoreError(t *testing.T) {
	f := setupLedger(t)
	f.mock.ExpectQuery(balancesSQL).WillReturnError(errors.New("connection refused"))

	_, _, err := f.ledger.CheckBalance(context.Background(), "org-1", dec("1"))

	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

// ==========================
// ReplayAudit
// ==========================

func queuedEntry(id string) models.BillingEntry {
	return models.BillingEntry{
		ID:             id,
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("-50"),
		Status:         models.BillingStatusPaid,
		Category:       "consumo",
		PaymentMethod:  models.PaymentMethodInternalBalance,
		CreatedAt:      testNow,
	}
}

func TestReplayAudit_WritesQueuedEntries(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-1")))
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-2")))

	f.mock.ExpectExec(insertSQL).WithArgs("e-1", "org-1", "user-1", "-50", "paid", "consumo", "", "saldo_interno", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(insertSQL).WithArgs("e-2", "org-1", "user-1", "-50", "paid", "consumo", "", "saldo_interno", testNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := f.ledger.ReplayAudit(ctx, 10)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Replayed)
	assert.Equal(t, int64(0), result.Remaining)
	assert.Len(t, f.indexer.entries, 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReplayAudit_FailureRequeuesAtHead(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-1")))
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-2")))

	f.mock.ExpectExec(insertSQL).WillReturnError(errors.New("connection refused"))

	_, err := f.ledger.ReplayAudit(ctx, 10)

	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	n, lenErr := f.ledger.audit.Len(ctx)
	require.NoError(t, lenErr)
	assert.Equal(t, int64(2), n)

	head, _ := f.redis.Lpop(DefaultAuditQueueKey)
	assert.Contains(t, head, `"id":"e-1"`)
}

func TestReplayAudit_RespectsLimitAndSkipsGarbage(t *testing.T) {
	f := setupLedger(t)
	ctx := context.Background()
	_, err := f.redis.Push(DefaultAuditQueueKey, "not-json")
	require.NoError(t, err)
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-1")))
	require.NoError(t, f.ledger.audit.Enqueue(ctx, queuedEntry("e-2")))

	f.mock.ExpectExec(insertSQL).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := f.ledger.ReplayAudit(ctx, 2)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Replayed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, int64(1), result.Remaining)
}
