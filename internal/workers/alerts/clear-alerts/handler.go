// internal/workers/alerts/clear-alerts/handler.go
package clearalerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "clear-alerts"
)

type Clearer interface {
	ClearAll(ctx context.Context, organizationID string) (int64, error)
}

type Handler struct {
	config    *Config
	engine    Clearer
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
	now       func() time.Time
}

func NewHandler(config *Config, engine Clearer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		engine:    engine,
		validator: validation.MustForTask(TaskType),
		responder: camunda.NewResponder(TaskType, log),
		logger:    log,
		now:       time.Now,
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
	cleared, err := h.engine.ClearAll(ctx, input.OrganizationID)
	if err != nil && !errors.Is(err, apperrors.ErrStoreUnavailable) {
		return nil, err
	}

	output := &Output{
		OrganizationID: input.OrganizationID,
		Cleared:        cleared,
	}
	if err != nil {
		output.ErrorCode = string(apperrors.Normalize(err).Code)
		h.logger.Warn("alerts not cleared", map[string]interface{}{
			"organizationId": input.OrganizationID,
			"error":          err,
		})
		return output, nil
	}
	output.ClearedAt = h.now().UTC().Format(time.RFC3339)
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
