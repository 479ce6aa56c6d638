// internal/workers/alerts/acknowledge-alert/models.go
package acknowledgealert

import "appeals-workers/internal/models"

type Input struct {
	OrganizationID string `json:"organizationId"`
	ContractID     string `json:"contractId"`
}

type Output struct {
	ContractID     string                     `json:"contractId"`
	NextReminderAt string                     `json:"nextReminderAt,omitempty"` // ISO 8601
	Alerts         []models.NotificationAlert `json:"alerts"`
	Counts         models.AlertCounts         `json:"counts"`
	Stale          bool                       `json:"stale"`
	ErrorCode      string                     `json:"errorCode,omitempty"`
}
