// internal/workers/alerts/send-checkin-message/models.go
package sendcheckinmessage

import "appeals-workers/internal/models"

type Input struct {
	OrganizationID string `json:"organizationId"`
	ContractID     string `json:"contractId"`
	// Message overrides the default check-in text.
	Message string `json:"message,omitempty"`
}

type Output struct {
	ContractID     string              `json:"contractId"`
	Status         string              `json:"status"` // "sent", "no_channel"
	Channels       []string            `json:"channels"`
	EmailMessageID string              `json:"emailMessageId,omitempty"`
	SMSMessageID   string              `json:"smsMessageId,omitempty"`
	Acknowledged   bool                `json:"acknowledged"`
	NextReminderAt string              `json:"nextReminderAt,omitempty"` // ISO 8601
	Counts         *models.AlertCounts `json:"counts,omitempty"`
}
