// internal/workers/billing/search-billing-entries/handler.go
package searchbillingentries

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appeals-workers/internal/billing"
	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "search-billing-entries"
)

const dateOnly = "2006-01-02"

type Searcher interface {
	Search(ctx context.Context, q billing.SearchQuery) (*billing.SearchResult, error)
}

type Handler struct {
	config    *Config
	index     Searcher
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, index Searcher, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		index:     index,
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
	from, err := parseBound(input.From, false)
	if err != nil {
		return nil, apperrors.NewInputValidationError(fmt.Sprintf("from: %v", err))
	}
	to, err := parseBound(input.To, true)
	if err != nil {
		return nil, apperrors.NewInputValidationError(fmt.Sprintf("to: %v", err))
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperrors.NewInputValidationError("to is before from")
	}

	query := billing.SearchQuery{
		OrganizationID: input.OrganizationID,
		Category:       input.Category,
		From:           from,
		To:             to,
		Page:           input.Page,
		PageSize:       input.PageSize,
	}
	result, err := h.index.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	output := &Output{
		Entries:  make([]Entry, 0, len(result.Entries)),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: input.PageSize,
	}
	if output.PageSize <= 0 {
		output.PageSize = billing.DefaultPageSize
	}
	for _, e := range result.Entries {
		output.Entries = append(output.Entries, Entry{
			ID:            e.ID,
			UserID:        e.UserID,
			Amount:        e.Amount,
			Status:        e.Status,
			Category:      e.Category,
			Description:   e.Description,
			PaymentMethod: e.PaymentMethod,
			CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return output, nil
}

// parseBound reads an RFC 3339 timestamp or a calendar day. A day used as the upper
// bound covers the whole day.
func parseBound(value string, upper bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	day, err := time.Parse(dateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", value)
	}
	if upper {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
