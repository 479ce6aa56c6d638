// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"appeals-workers/internal/common/config"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"
)

// JobRecorder receives the outcome of every job; *observability.Observability satisfies it.
type JobRecorder interface {
	RecordJob(ctx context.Context, taskType, status string, duration time.Duration)
}

var recorder JobRecorder

// UseRecorder installs the recorder used by every Responder. Call it before opening workers.
func UseRecorder(r JobRecorder) {
	recorder = r
}

// OpenWorker starts polling taskType and returns the worker so it can be closed on shutdown.
// Disabled workers return nil.
func OpenWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler worker.JobHandler, log *zap.Logger) worker.JobWorker {
	if !wcfg.Enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return nil
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)
	return jobWorker
}

// Responder completes or fails jobs for a single task type and records the outcome.
type Responder struct {
	taskType string
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

func NewResponder(taskType string, log logger.Logger) *Responder {
	return &Responder{
		taskType: taskType,
		errors:   apperrors.NewErrorHandler(log),
		logger:   log,
	}
}

// Complete sends the job's output variables back to the broker.
func (r *Responder) Complete(ctx context.Context, client worker.JobClient, job entities.Job, started time.Time, output interface{}) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		r.errors.HandleJobError(ctx, client, job, err)
		r.observe(ctx, "failed", string(apperrors.ErrCodeInternal), started)
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}

	r.logger.Info("job completed", map[string]interface{}{
		"jobKey":     job.Key,
		"durationMs": time.Since(started).Milliseconds(),
	})
	r.observe(ctx, "completed", "", started)
}

// Fail hands err to the ErrorHandler, which either fails the job with retries or throws
// a BPMN error, depending on the error code.
func (r *Responder) Fail(ctx context.Context, client worker.JobClient, job entities.Job, started time.Time, err error) {
	stdErr := apperrors.Normalize(err)
	r.errors.HandleJobError(ctx, client, job, stdErr)
	r.observe(ctx, "failed", string(stdErr.Code), started)
}

func (r *Responder) observe(ctx context.Context, status, errorCode string, started time.Time) {
	elapsed := time.Since(started)
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(elapsed.Seconds())
	if status == "completed" {
		metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	} else {
		metrics.WorkerJobsFailed.WithLabelValues(r.taskType, errorCode).Inc()
	}
	if recorder != nil {
		recorder.RecordJob(ctx, r.taskType, status, elapsed)
	}
}
