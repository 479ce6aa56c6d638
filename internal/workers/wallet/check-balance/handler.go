// internal/workers/wallet/check-balance/handler.go
package checkbalance

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
	"github.com/shopspring/decimal"
)

const (
	TaskType = "check-balance"
)

type BalanceChecker interface {
	CheckBalance(ctx context.Context, organizationID string, amount decimal.Decimal) (bool, wallet.Balances, error)
}

type Handler struct {
	config    *Config
	ledger    BalanceChecker
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, ledger BalanceChecker, log logger.Logger) *Handler {
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
	if input.Amount.IsNegative() {
		return nil, apperrors.NewInvalidAmountError(input.Amount.String())
	}

	ok, balances, err := h.ledger.CheckBalance(ctx, input.OrganizationID, input.Amount)
	if err != nil {
		return nil, err
	}

	return &Output{
		Sufficient:   ok,
		Amount:       input.Amount,
		SaldoSacavel: balances.Spendable,
		SaldoBonus:   balances.Bonus,
		Total:        balances.Total(),
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
