// internal/workers/wallet/replay-billing-audit/handler.go
package replaybillingaudit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"
	"appeals-workers/internal/wallet"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "replay-billing-audit"
)

type Replayer interface {
	ReplayAudit(ctx context.Context, limit int) (*wallet.ReplayResult, error)
}

type Handler struct {
	config    *Config
	ledger    Replayer
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, ledger Replayer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		ledger:    ledger,
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
	var input Input
	if strings.TrimSpace(variables) == "" {
		return &input, nil
	}
	if err := h.validator.Validate(variables); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInputValidationError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	limit := input.BatchSize
	if limit <= 0 {
		limit = h.config.BatchSize
	}

	result, err := h.ledger.ReplayAudit(ctx, limit)
	if err != nil {
		return nil, err
	}

	if result.Remaining > 0 {
		h.logger.Warn("billing audit backlog remains", map[string]interface{}{
			"remaining": result.Remaining,
		})
	}
	return &Output{
		Replayed:  result.Replayed,
		Skipped:   result.Skipped,
		Remaining: result.Remaining,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
