// Package wallet debits organization balances bonus-first and keeps the billing
// audit trail in faturamento.
package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appeals-workers/internal/common/config"
	"appeals-workers/internal/common/database"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/metrics"
	"appeals-workers/internal/common/observability"
	"appeals-workers/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultMaxDeductAttempts = 3

// EntryIndexer receives every billing entry that reached the database.
type EntryIndexer interface {
	IndexEntry(ctx context.Context, entry models.BillingEntry) error
}

type Config struct {
	BalanceCacheTTL   time.Duration
	MaxDeductAttempts int
	AuditQueueKey     string
}

func ConfigFrom(cfg config.WalletConfig) Config {
	return Config{
		BalanceCacheTTL:   config.Seconds(cfg.BalanceCacheTTL),
		MaxDeductAttempts: cfg.MaxDeductAttempts,
		AuditQueueKey:     cfg.AuditQueueKey,
	}
}

type Ledger struct {
	db      *sql.DB
	cache   *BalanceCache
	audit   *AuditQueue
	indexer EntryIndexer
	config  Config
	logger  logger.Logger
	newID   func() string
	now     func() time.Time
}

// NewLedger wires the ledger. indexer may be nil when Elasticsearch is not configured.
func NewLedger(db *sql.DB, rdb *redis.Client, indexer EntryIndexer, cfg Config, log logger.Logger) *Ledger {
	if cfg.MaxDeductAttempts < 1 {
		cfg.MaxDeductAttempts = defaultMaxDeductAttempts
	}
	return &Ledger{
		db:      db,
		cache:   NewBalanceCache(rdb, cfg.BalanceCacheTTL),
		audit:   NewAuditQueue(rdb, cfg.AuditQueueKey),
		indexer: indexer,
		config:  cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "wallet"}),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// DeductRequest describes one consumption. Category defaults to consumo.
//
// EntryID makes the deduction idempotent: a second Deduct with an EntryID that was
// already applied debits nothing and returns the first entry.
type DeductRequest struct {
	OrganizationID string
	UserID         string
	Amount         decimal.Decimal
	Description    string
	Category       string
	EntryID        string
}

type DeductResult struct {
	Entry            models.BillingEntry
	BonusDebited     decimal.Decimal
	SpendableDebited decimal.Decimal
	// Balances are the post-debit balances of the locked row.
	Balances Balances
	// AuditQueued is set when the entry insert failed and the entry awaits replay.
	AuditQueued bool
	// Replayed is set when EntryID had already been applied. The bucket split of the
	// original debit is not stored, so BonusDebited and SpendableDebited are zero.
	Replayed bool
}

// Balances returns the cached balances, loading them from the database on a miss.
func (l *Ledger) Balances(ctx context.Context, organizationID string) (Balances, error) {
	if organizationID == "" {
		return Balances{}, apperrors.NewContextUnresolvedError("organizationId is required")
	}

	b, ok, err := l.cache.Get(ctx, organizationID)
	if err != nil {
		l.logger.Warn("balance cache read failed", map[string]interface{}{
			"organizationId": organizationID,
			"error":          err,
		})
	}
	if ok {
		return b, nil
	}

	b, err = l.fresh(ctx, organizationID)
	if err != nil {
		return Balances{}, err
	}
	l.remember(ctx, organizationID, b)
	return b, nil
}

// CheckBalance reports whether the organization can afford amount. It has no side
// effects besides warming the balance cache.
func (l *Ledger) CheckBalance(ctx context.Context, organizationID string, amount decimal.Decimal) (bool, Balances, error) {
	b, err := l.Balances(ctx, organizationID)
	if err != nil {
		return false, Balances{}, err
	}
	return b.CheckBalance(amount), b, nil
}

// Deduct debits amount bonus-first and appends a billing entry.
//
// The organization row is locked for the whole transaction, and the check and the
// split use the locked balances, never the cache. The entry is inserted in the same
// transaction behind a savepoint: a failed insert does not fail the deduction, the
// entry is queued for replay instead.
func (l *Ledger) Deduct(ctx context.Context, req DeductRequest) (*DeductResult, error) {
	ctx, span := observability.StartSpan(ctx, "wallet.Deduct", req.OrganizationID)

	result, err := l.deduct(ctx, req)
	switch {
	case err == nil && result.Replayed:
		metrics.WalletDeductions.WithLabelValues(metrics.OutcomeReplayed).Inc()
	case err == nil:
		metrics.WalletDeductions.WithLabelValues(metrics.OutcomeSuccess).Inc()
	case errors.Is(err, apperrors.ErrInsufficientBalance):
		metrics.WalletDeductions.WithLabelValues(metrics.OutcomeInsufficient).Inc()
	default:
		metrics.WalletDeductions.WithLabelValues(metrics.OutcomeError).Inc()
	}

	observability.EndSpan(span, err)
	return result, err
}

// debitOutcome is what one debit transaction committed.
type debitOutcome struct {
	before            Balances
	bonusTaken        decimal.Decimal
	spendableTaken    decimal.Decimal
	entry             models.BillingEntry
	insertErr         error
	replayed          bool
	replayedFromQueue bool
}

func (l *Ledger) deduct(ctx context.Context, req DeductRequest) (*DeductResult, error) {
	if req.OrganizationID == "" || req.UserID == "" {
		return nil, apperrors.NewContextUnresolvedError("organizationId and userId are required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewInvalidAmountError(req.Amount.String())
	}
	if req.Category == "" {
		req.Category = models.DefaultBillingCategory
	}

	entry := models.BillingEntry{
		ID:             req.EntryID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Amount:         req.Amount.Neg(),
		Status:         models.BillingStatusPaid,
		Category:       req.Category,
		Description:    req.Description,
		PaymentMethod:  models.PaymentMethodInternalBalance,
		CreatedAt:      l.now().UTC(),
	}
	if entry.ID == "" {
		entry.ID = l.newID()
	}

	var out *debitOutcome
	for attempt := 1; ; attempt++ {
		var err error
		out, err = l.debitTx(ctx, req, entry)
		if err == nil {
			break
		}
		var stdErr *apperrors.StandardError
		if errors.As(err, &stdErr) {
			return nil, err
		}
		if !isRetryableConflict(err) {
			return nil, l.storeFailure("debit balance", req.OrganizationID, err)
		}

		metrics.WalletDeductConflicts.Inc()
		l.logger.Warn("debit transaction conflicted, retrying", map[string]interface{}{
			"organizationId": req.OrganizationID,
			"attempt":        attempt,
			"error":          err,
		})
		if attempt >= l.config.MaxDeductAttempts {
			return nil, l.storeFailure("debit balance", req.OrganizationID,
				fmt.Errorf("conflicted on %d attempts: %w", attempt, err))
		}
	}

	if out.replayed {
		l.remember(ctx, req.OrganizationID, out.before)
		l.logger.Info("deduction already applied", map[string]interface{}{
			"organizationId": req.OrganizationID,
			"entryId":        out.entry.ID,
		})
		return &DeductResult{
			Entry:       out.entry,
			Balances:    out.before,
			AuditQueued: out.replayedFromQueue,
			Replayed:    true,
		}, nil
	}

	queued := false
	if out.insertErr != nil {
		queued = l.queue(ctx, entry, out.insertErr)
	} else {
		l.index(ctx, entry)
	}

	after := out.before.After(out.bonusTaken, out.spendableTaken)
	l.remember(ctx, req.OrganizationID, after)

	l.logger.Info("balance deducted", map[string]interface{}{
		"organizationId":   req.OrganizationID,
		"userId":           req.UserID,
		"entryId":          entry.ID,
		"amount":           req.Amount.String(),
		"bonusDebited":     out.bonusTaken.String(),
		"spendableDebited": out.spendableTaken.String(),
		"auditQueued":      queued,
	})

	return &DeductResult{
		Entry:            entry,
		BonusDebited:     out.bonusTaken,
		SpendableDebited: out.spendableTaken,
		Balances:         after,
		AuditQueued:      queued,
	}, nil
}

// debitTx runs one locked check-debit-insert transaction. Domain rejections come back
// as StandardErrors and roll the transaction back; database errors come back raw so the
// caller can tell conflicts apart.
func (l *Ledger) debitTx(ctx context.Context, req DeductRequest, entry models.BillingEntry) (*debitOutcome, error) {
	var out debitOutcome
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		balances, err := lockBalances(ctx, tx, req.OrganizationID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewOrganizationNotFoundError(req.OrganizationID)
		}
		if err != nil {
			return err
		}
		out = debitOutcome{before: balances}

		if req.EntryID != "" {
			found, err := l.applied(ctx, tx, req.EntryID, &out)
			if err != nil || found {
				return err
			}
		}

		if !balances.CheckBalance(req.Amount) {
			l.logger.Info("deduction rejected", map[string]interface{}{
				"organizationId": req.OrganizationID,
				"amount":         req.Amount.String(),
				"available":      balances.Total().String(),
			})
			return apperrors.NewInsufficientBalanceError(req.Amount.String(), balances.Total().String())
		}

		out.bonusTaken, out.spendableTaken = balances.Split(req.Amount)
		if err := debit(ctx, tx, req.OrganizationID, out.bonusTaken, out.spendableTaken); err != nil {
			return err
		}
		out.entry = entry
		out.insertErr, err = insertInTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// applied looks for an entry written, or queued, by an earlier run of the same deduction.
func (l *Ledger) applied(ctx context.Context, tx *sql.Tx, entryID string, out *debitOutcome) (bool, error) {
	prev, found, err := findEntry(ctx, tx, entryID)
	if err != nil {
		return false, err
	}
	if !found {
		prev, found, err = l.audit.Pending(ctx, entryID)
		if err != nil {
			return false, apperrors.NewStoreUnavailableError("read audit queue", err)
		}
		out.replayedFromQueue = found
	}
	if found {
		out.entry = prev
		out.replayed = true
	}
	return found, nil
}

// queue pushes an entry whose insert failed and reports whether it is awaiting replay.
func (l *Ledger) queue(ctx context.Context, entry models.BillingEntry, insertErr error) bool {
	l.logger.Error("billing entry insert failed, queueing for replay", map[string]interface{}{
		"organizationId": entry.OrganizationID,
		"error":          apperrors.NewAuditWriteFailedError(entry.ID, insertErr),
	})
	if err := l.audit.Enqueue(ctx, entry); err != nil {
		l.logger.Error("billing entry lost", map[string]interface{}{
			"organizationId": entry.OrganizationID,
			"entryId":        entry.ID,
			"amount":         entry.Amount.String(),
			"error":          err,
		})
		return false
	}
	metrics.BillingAuditQueued.Inc()
	return true
}

func (l *Ledger) index(ctx context.Context, entry models.BillingEntry) {
	if l.indexer == nil {
		return
	}
	if err := l.indexer.IndexEntry(ctx, entry); err != nil {
		l.logger.Warn("failed to index billing entry", map[string]interface{}{
			"entryId": entry.ID,
			"error":   err,
		})
	}
}

// ReplayResult summarises one pass over the audit queue.
type ReplayResult struct {
	Replayed  int
	Skipped   int
	Remaining int64
}

// ReplayAudit writes up to limit queued entries. Inserts are idempotent on the entry id.
func (l *Ledger) ReplayAudit(ctx context.Context, limit int) (*ReplayResult, error) {
	written, skipped, err := l.audit.Drain(ctx, limit, func(ctx context.Context, entry models.BillingEntry) error {
		if err := insertEntry(ctx, l.db, entry); err != nil {
			return err
		}
		metrics.BillingAuditReplayed.Inc()
		l.index(ctx, entry)
		return nil
	})
	if skipped > 0 {
		l.logger.Error("dropped undecodable audit entries", map[string]interface{}{
			"skipped": skipped,
		})
	}
	if err != nil {
		return nil, l.storeFailure("replay billing audit", "", err)
	}

	remaining, err := l.audit.Len(ctx)
	if err != nil {
		return nil, l.storeFailure("audit queue length", "", err)
	}

	if written > 0 {
		l.logger.Info("billing audit replayed", map[string]interface{}{
			"replayed":  written,
			"remaining": remaining,
		})
	}
	return &ReplayResult{Replayed: written, Skipped: skipped, Remaining: remaining}, nil
}

func (l *Ledger) fresh(ctx context.Context, organizationID string) (Balances, error) {
	b, err := loadBalances(ctx, l.db, organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return Balances{}, apperrors.NewOrganizationNotFoundError(organizationID)
	}
	if err != nil {
		return Balances{}, l.storeFailure("load balances", organizationID, err)
	}
	return b, nil
}

func (l *Ledger) remember(ctx context.Context, organizationID string, b Balances) {
	if err := l.cache.Set(ctx, organizationID, b); err != nil {
		l.logger.Warn("balance cache write failed", map[string]interface{}{
			"organizationId": organizationID,
			"error":          err,
		})
	}
}

func (l *Ledger) storeFailure(op, organizationID string, err error) error {
	l.logger.Error(op+" failed", map[string]interface{}{
		"organizationId": organizationID,
		"error":          err,
	})
	return apperrors.NewStoreUnavailableError(op, err)
}
