package deductbalance

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/models"
	"appeals-workers/internal/wallet"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

// mockLedger applies the bonus-first split to in-memory balances and, like the real
// ledger, applies each EntryID once.
type mockLedger struct {
	balances wallet.Balances
	requests []wallet.DeductRequest
	applied  map[string]models.BillingEntry
	err      error
}

func (m *mockLedger) Deduct(_ context.Context, req wallet.DeductRequest) (*wallet.DeductResult, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if entry, ok := m.applied[req.EntryID]; ok {
		return &wallet.DeductResult{Entry: entry, Balances: m.balances, Replayed: true}, nil
	}
	if !m.balances.CheckBalance(req.Amount) {
		return nil, apperrors.NewInsufficientBalanceError(req.Amount.String(), m.balances.Total().String())
	}
	bonus, spendable := m.balances.Split(req.Amount)
	m.balances = m.balances.After(bonus, spendable)
	entry := models.BillingEntry{
		ID:        "entry-1",
		Amount:    req.Amount.Neg(),
		CreatedAt: time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC),
	}
	if req.EntryID != "" {
		entry.ID = req.EntryID
		if m.applied == nil {
			m.applied = map[string]models.BillingEntry{}
		}
		m.applied[req.EntryID] = entry
	}
	return &wallet.DeductResult{
		Entry:            entry,
		BonusDebited:     bonus,
		SpendableDebited: spendable,
		Balances:         m.balances,
	}, nil
}

func createMockJob(key int64, variables string) entities.Job {
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "consumo-servico",
		ElementId:          "Activity_DeductBalance",
		Retries:            3,
		Variables:          variables,
	}}
}

func createTestHandler(t *testing.T, ledger Deducter) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, ledger, logger.NewTestLogger(t))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ==========================
// Tests
// ==========================

func TestExecute_BonusFirst(t *testing.T) {
	ledger := &mockLedger{balances: wallet.Balances{Spendable: dec("100"), Bonus: dec("20")}}
	h := createTestHandler(t, ledger)

	out, err := h.Execute(context.Background(), &Input{
		OrganizationID: "org-1",
		UserID:         "user-1",
		Amount:         dec("50"),
		Description:    "Recurso de multa",
	})
	require.NoError(t, err)

	assert.Equal(t, "entry-1", out.EntryID)
	assert.True(t, out.BonusDebited.Equal(dec("20")))
	assert.True(t, out.SpendableDebited.Equal(dec("30")))
	assert.True(t, out.SaldoSacavel.Equal(dec("70")))
	assert.True(t, out.SaldoBonus.IsZero())
	assert.Equal(t, "2026-03-10T15:04:05Z", out.CreatedAt)
	assert.False(t, out.AuditQueued)

	require.Len(t, ledger.requests, 1)
	assert.Equal(t, "Recurso de multa", ledger.requests[0].Description)
}

func TestExecute_InsufficientBalanceIsBPMNError(t *testing.T) {
	ledger := &mockLedger{balances: wallet.Balances{Spendable: dec("10"), Bonus: dec("5")}}
	h := createTestHandler(t, ledger)

	_, err := h.Execute(context.Background(), &Input{OrganizationID: "org-1", UserID: "user-1", Amount: dec("15.01")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientBalance))

	stdErr := apperrors.Normalize(err)
	assert.False(t, stdErr.Retryable)
	assert.Equal(t, "Saldo insuficiente", stdErr.Message)
	assert.Equal(t, "INSUFFICIENT_BALANCE", apperrors.ConvertToBPMNError(stdErr).Code)
}

func TestExecute_StoreUnavailable(t *testing.T) {
	h := createTestHandler(t, &mockLedger{err: apperrors.NewStoreUnavailableError("debit balance", errors.New("deadlock"))})

	_, err := h.Execute(context.Background(), &Input{OrganizationID: "org-1", UserID: "user-1", Amount: dec("1")})
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

func TestParseInput(t *testing.T) {
	h := createTestHandler(t, &mockLedger{})

	input, err := h.parseInput(`{"organizationId":"org-1","userId":"user-1","amount":"19.90","category":"recurso"}`)
	require.NoError(t, err)
	assert.True(t, input.Amount.Equal(dec("19.9")))
	assert.Equal(t, "recurso", input.Category)

	_, err = h.parseInput(`{"organizationId":"org-1","amount":10}`)
	assert.True(t, errors.Is(err, apperrors.ErrInputValidation))
}

func TestExecute_RedeliveredJobDebitsOnce(t *testing.T) {
	ledger := &mockLedger{balances: wallet.Balances{Spendable: dec("100"), Bonus: dec("20")}}
	h := createTestHandler(t, ledger)
	job := createMockJob(2251799813685312, `{"organizationId":"org-1","userId":"user-1","amount":"50"}`)

	var outputs []*Output
	for i := 0; i < 2; i++ {
		input, err := h.jobInput(job)
		require.NoError(t, err)
		out, err := h.Execute(context.Background(), input)
		require.NoError(t, err)
		outputs = append(outputs, out)
	}

	require.Len(t, ledger.requests, 2)
	assert.Equal(t, EntryIDForJob(job.Key), ledger.requests[0].EntryID)
	assert.Equal(t, ledger.requests[0].EntryID, ledger.requests[1].EntryID)

	assert.False(t, outputs[0].Replayed)
	assert.True(t, outputs[1].Replayed)
	assert.Equal(t, outputs[0].EntryID, outputs[1].EntryID)
	assert.True(t, ledger.balances.Spendable.Equal(dec("70")))
	assert.True(t, outputs[1].SaldoSacavel.Equal(dec("70")))
}

func TestEntryIDForJob(t *testing.T) {
	assert.Equal(t, EntryIDForJob(42), EntryIDForJob(42))
	assert.NotEqual(t, EntryIDForJob(42), EntryIDForJob(43))
	assert.Len(t, EntryIDForJob(42), 36)
}

func TestExecute_WithoutJobKeyLeavesEntryIDToLedger(t *testing.T) {
	ledger := &mockLedger{balances: wallet.Balances{Spendable: dec("10")}}
	h := createTestHandler(t, ledger)

	_, err := h.Execute(context.Background(), &Input{OrganizationID: "org-1", UserID: "user-1", Amount: dec("1")})
	require.NoError(t, err)
	assert.Empty(t, ledger.requests[0].EntryID)
}
