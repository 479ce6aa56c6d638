// Package alerts activates overdue check-in reminders on appeal contracts and
// projects them into the escalation feed shown to staff.
package alerts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"appeals-workers/internal/common/database"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/metrics"
	"appeals-workers/internal/common/observability"
	"appeals-workers/internal/models"

	"go.opentelemetry.io/otel/trace"
)

// Engine is safe for concurrent use; its only shared state is the snapshot cache.
type Engine struct {
	db     *sql.DB
	cache  SnapshotCache
	policy Policy
	now    func() time.Time
	logger logger.Logger
}

func NewEngine(db *sql.DB, cache SnapshotCache, policy Policy, log logger.Logger) *Engine {
	if cache == nil {
		cache = NewMemorySnapshotCache()
	}
	return &Engine{
		db:     db,
		cache:  cache,
		policy: policy,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "alerts"}),
	}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AcknowledgeResult describes a check-in and the feed after it.
type AcknowledgeResult struct {
	ContractID     string
	NextReminderAt time.Time
	Snapshot       models.Snapshot
}

// Refresh activates due reminders and returns the organization's active alerts.
// Activation and fetch share a transaction, so the fetch sees every activation.
//
// On a store failure the previous snapshot is returned with Stale set, together with
// a retryable STORE_UNAVAILABLE error; the cached snapshot is not modified.
func (e *Engine) Refresh(ctx context.Context, organizationID string) (models.Snapshot, error) {
	ctx, span := observability.StartSpan(ctx, "alerts.Refresh", organizationID)

	if organizationID == "" {
		err := apperrors.NewContextUnresolvedError("organizationId is required")
		observability.EndSpan(span, err)
		return models.Snapshot{}, err
	}

	now := e.now().UTC()
	var (
		activated int64
		rows      []alertRow
	)
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		if activated, err = activate(ctx, tx, organizationID, now); err != nil {
			return err
		}
		rows, err = fetchActive(ctx, tx, organizationID)
		return err
	})
	if err != nil {
		observability.EndSpan(span, err)
		return e.stale(ctx, organizationID, err), apperrors.NewStoreUnavailableError("refresh alerts", err)
	}

	snapshot := models.Snapshot{
		OrganizationID: organizationID,
		Alerts:         e.policy.project(rows, now),
		RefreshedAt:    now,
	}
	if activated > 0 {
		metrics.AlertsActivated.Add(float64(activated))
	}

	if err := e.cache.Save(ctx, snapshot); err != nil {
		e.logger.Warn("failed to cache alert snapshot", map[string]interface{}{
			"organizationId": organizationID,
			"error":          err,
		})
	}

	counts := snapshot.Counts()
	e.logger.Debug("alerts refreshed", map[string]interface{}{
		"organizationId": organizationID,
		"activated":      activated,
		"active":         counts.Total,
		"unread":         counts.Unread,
		"urgent":         counts.Urgent,
	})

	observability.EndSpan(span, nil)
	return snapshot, nil
}

func (e *Engine) stale(ctx context.Context, organizationID string, cause error) models.Snapshot {
	metrics.AlertRefreshStale.Inc()
	e.logger.Error("alert refresh failed, serving previous snapshot", map[string]interface{}{
		"organizationId": organizationID,
		"error":          cause,
	})
	return e.previous(ctx, organizationID)
}

// previous returns the last cached snapshot, or an empty one, marked stale.
func (e *Engine) previous(ctx context.Context, organizationID string) models.Snapshot {
	prev, ok, err := e.cache.Load(ctx, organizationID)
	if err != nil {
		e.logger.Warn("failed to load previous alert snapshot", map[string]interface{}{
			"organizationId": organizationID,
			"error":          err,
		})
	}
	if err != nil || !ok {
		prev = models.Snapshot{OrganizationID: organizationID, Alerts: []models.NotificationAlert{}}
	}
	prev.Stale = true
	return prev
}

// Acknowledge records a check-in on one contract and reschedules its next reminder
// to now plus the effective interval. alerta_ativo is left as it is, so the contract
// keeps counting as active until it is cleared or re-activated.
//
// On a store failure nothing is written and the result carries the previous snapshot
// with Stale set, together with a retryable STORE_UNAVAILABLE error.
func (e *Engine) Acknowledge(ctx context.Context, organizationID, contractID string) (*AcknowledgeResult, error) {
	ctx, span := observability.StartSpan(ctx, "alerts.Acknowledge", organizationID)

	if organizationID == "" || contractID == "" {
		err := apperrors.NewContextUnresolvedError("organizationId and contractId are required")
		observability.EndSpan(span, err)
		return nil, err
	}

	contractInterval, orgInterval, err := intervals(ctx, e.db, organizationID, contractID)
	if errors.Is(err, sql.ErrNoRows) {
		notFound := apperrors.NewContractNotFoundError(contractID)
		observability.EndSpan(span, notFound)
		return nil, notFound
	}
	if err != nil {
		err = e.storeFailure(span, "read contract interval", organizationID, contractID, err)
		return e.unacknowledged(ctx, organizationID, contractID), err
	}

	now := e.now().UTC()
	interval := EffectiveInterval(contractInterval, orgInterval, e.policy.DefaultIntervalDays)
	next := now.AddDate(0, 0, interval)

	affected, err := markAcknowledged(ctx, e.db, organizationID, contractID, now, next)
	if err != nil {
		err = e.storeFailure(span, "acknowledge alert", organizationID, contractID, err)
		return e.unacknowledged(ctx, organizationID, contractID), err
	}
	if affected == 0 {
		notFound := apperrors.NewContractNotFoundError(contractID)
		observability.EndSpan(span, notFound)
		return nil, notFound
	}
	metrics.AlertsAcknowledged.Inc()

	e.logger.Info("alert acknowledged", map[string]interface{}{
		"organizationId": organizationID,
		"contractId":     contractID,
		"intervalDays":   interval,
		"nextReminderAt": next,
	})

	// A failed refresh is already logged and yields a stale snapshot; the check-in itself succeeded.
	snapshot, _ := e.Refresh(ctx, organizationID)

	observability.EndSpan(span, nil)
	return &AcknowledgeResult{
		ContractID:     contractID,
		NextReminderAt: next,
		Snapshot:       snapshot,
	}, nil
}

func (e *Engine) unacknowledged(ctx context.Context, organizationID, contractID string) *AcknowledgeResult {
	return &AcknowledgeResult{ContractID: contractID, Snapshot: e.previous(ctx, organizationID)}
}

// ClearAll dismisses every active alert of the organization and returns how many
// contracts changed. data_proximo_lembrete is kept, so contracts re-activate on schedule.
// A second call affects no rows.
func (e *Engine) ClearAll(ctx context.Context, organizationID string) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "alerts.ClearAll", organizationID)

	if organizationID == "" {
		err := apperrors.NewContextUnresolvedError("organizationId is required")
		observability.EndSpan(span, err)
		return 0, err
	}

	cleared, err := clearActive(ctx, e.db, organizationID)
	if err != nil {
		return 0, e.storeFailure(span, "clear alerts", organizationID, "", err)
	}
	metrics.AlertsCleared.Add(float64(cleared))

	if err := e.cache.Clear(ctx, organizationID); err != nil {
		e.logger.Warn("failed to drop alert snapshot", map[string]interface{}{
			"organizationId": organizationID,
			"error":          err,
		})
	}

	e.logger.Info("alerts cleared", map[string]interface{}{
		"organizationId": organizationID,
		"cleared":        cleared,
	})

	observability.EndSpan(span, nil)
	return cleared, nil
}

// Contact returns the alert for contractID from a fresh refresh, falling back to the
// previous snapshot when the store is down.
func (e *Engine) Contact(ctx context.Context, organizationID, contractID string) (models.NotificationAlert, error) {
	snapshot, err := e.Refresh(ctx, organizationID)
	for _, a := range snapshot.Alerts {
		if a.ContractID == contractID {
			return a, nil
		}
	}
	if err != nil {
		return models.NotificationAlert{}, err
	}
	return models.NotificationAlert{}, apperrors.NewContractNotFoundError(contractID)
}

func (e *Engine) storeFailure(span trace.Span, op, organizationID, contractID string, err error) error {
	e.logger.Error(op+" failed", map[string]interface{}{
		"organizationId": organizationID,
		"contractId":     contractID,
		"error":          err,
	})
	observability.EndSpan(span, err)
	return apperrors.NewStoreUnavailableError(op, err)
}
