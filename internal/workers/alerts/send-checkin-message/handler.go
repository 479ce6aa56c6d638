// internal/workers/alerts/send-checkin-message/handler.go
package sendcheckinmessage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"appeals-workers/internal/common/camunda"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/validation"
	"appeals-workers/internal/notify"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "send-checkin-message"
)

type Sender interface {
	SendCheckin(ctx context.Context, organizationID, contractID, message string) (*notify.Delivery, error)
}

type Handler struct {
	config    *Config
	messenger Sender
	validator *validation.Validator
	responder *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, messenger Sender, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		messenger: messenger,
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
	delivery, err := h.messenger.SendCheckin(ctx, input.OrganizationID, input.ContractID, input.Message)
	if err != nil {
		return nil, err
	}

	output := &Output{
		ContractID:     delivery.ContractID,
		Status:         delivery.Status,
		Channels:       delivery.Channels,
		EmailMessageID: delivery.EmailMessageID,
		SMSMessageID:   delivery.SMSMessageID,
		Acknowledged:   delivery.Acknowledged,
	}
	if output.Channels == nil {
		output.Channels = []string{}
	}
	if delivery.NextReminderAt != nil {
		output.NextReminderAt = delivery.NextReminderAt.UTC().Format(time.RFC3339)
	}
	if delivery.Snapshot != nil {
		counts := delivery.Snapshot.Counts()
		output.Counts = &counts
	}
	return output, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
