// internal/workers/alerts/acknowledge-alert/handler.go
package acknowledgealert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appeals-workers/internal/alerts"
	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"
	"appeals-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "acknowledge-alert"
)

type Acknowledger interface {
	Acknowledge(ctx context.Context, organizationID, contractID string) (*alerts.AcknowledgeResult, error)
}

type Handler struct {
	config    *Config
	engine    Acknowledger
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, engine Acknowledger, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		engine:    engine,
		validator: validation.MustForTask(TaskType),
		responder: camunda.NewResponder(TaskType, log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job.Variables)
	if err != nil {
		h.responder.Fail(ctx, client, job, started, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.responder.Fail(ctx, client, job, started, err)
		return
	}

	h.responder.Complete(ctx, client, job, started, output)
}

func (h *Handler) parseInput(variables string) (*Input, error) {
	if err := h.validator.Validate(variables); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInputValidationError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.engine.Acknowledge(ctx, input.OrganizationID, input.ContractID)
	if err != nil && (result == nil || !errors.Is(err, apperrors.ErrStoreUnavailable)) {
		return nil, err
	}

	feed := result.Snapshot.Alerts
	if feed == nil {
		feed = []models.NotificationAlert{}
	}
	output := &Output{
		ContractID: result.ContractID,
		Alerts:     feed,
		Counts:     result.Snapshot.Counts(),
		Stale:      result.Snapshot.Stale,
	}
	if !result.NextReminderAt.IsZero() {
		output.NextReminderAt = result.NextReminderAt.UTC().Format(time.RFC3339)
	}
	if err != nil {
		output.ErrorCode = string(apperrors.Normalize(err).Code)
		h.logger.Warn("check-in not recorded, serving stale alerts", map[string]interface{}{
			"organizationId": input.OrganizationID,
			"contractId":     input.ContractID,
			"error":          err,
		})
	}
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
