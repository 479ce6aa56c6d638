// internal/workers/wallet/deduct-balance/handler.go
package deductbalance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"
	"appeals-workers/internal/wallet"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "deduct-balance"
)

var entryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("appeals-workers/"+TaskType))

// EntryIDForJob derives the billing entry id from the job key. Zeebe redelivers a job
// under the same key, so a redelivery maps onto the entry of the first run.
func EntryIDForJob(jobKey int64) string {
	return uuid.NewSHA1(entryNamespace, []byte(fmt.Sprintf("%d", jobKey))).String()
}

type Deducter interface {
	Deduct(ctx context.Context, req wallet.DeductRequest) (*wallet.DeductResult, error)
}

type Handler struct {
	config    *Config
	ledger    Deducter
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, ledger Deducter, log logger.Logger) *Handler {
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

	input, err := h.jobInput(job)
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

func (h *Handler) jobInput(job entities.Job) (*Input, error) {
	input, err := h.parseInput(job.Variables)
	if err != nil {
		return nil, err
	}
	input.JobKey = job.Key
	return input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.ledger.Deduct(ctx, wallet.DeductRequest{
		OrganizationID: input.OrganizationID,
		UserID:         input.UserID,
		Amount:         input.Amount,
		Description:    input.Description,
		Category:       input.Category,
		EntryID:        entryID(input),
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		EntryID:          result.Entry.ID,
		Amount:           input.Amount,
		BonusDebited:     result.BonusDebited,
		SpendableDebited: result.SpendableDebited,
		SaldoSacavel:     result.Balances.Spendable,
		SaldoBonus:       result.Balances.Bonus,
		AuditQueued:      result.AuditQueued,
		Replayed:         result.Replayed,
		CreatedAt:        result.Entry.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func entryID(input *Input) string {
	if input.JobKey == 0 {
		return ""
	}
	return EntryIDForJob(input.JobKey)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
