// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	AlertsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_activated_total",
			Help: "Contracts whose reminder became an active alert",
		},
	)

	AlertsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_acknowledged_total",
			Help: "Alerts marked as checked in",
		},
	)

	AlertsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alerts_cleared_total",
			Help: "Active alerts dismissed by clear-all",
		},
	)

	AlertRefreshStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alert_refresh_stale_total",
			Help: "Refreshes that failed and served the previous snapshot",
		},
	)

	WalletDeductions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_deductions_total",
			Help: "Wallet deductions by outcome",
		},
		[]string{"outcome"},
	)

	WalletDeductConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_deduct_conflicts_total",
			Help: "Debit transactions retried after a serialization failure or deadlock",
		},
	)

	BillingAuditQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_audit_queued_total",
			Help: "Billing entries pushed to the retry queue after a failed insert",
		},
	)

	BillingAuditReplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_audit_replayed_total",
			Help: "Billing entries written from the retry queue",
		},
	)

	CheckinMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_messages_sent_total",
			Help: "Check-in messages delivered per channel",
		},
		[]string{"channel"},
	)
)

// Deduction outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient"
	OutcomeError        = "error"
	OutcomeReplayed     = "replayed"
)
