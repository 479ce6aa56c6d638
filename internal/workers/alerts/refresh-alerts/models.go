// internal/workers/alerts/refresh-alerts/models.go
package refreshalerts

import "appeals-workers/internal/models"

type Input struct {
	OrganizationID string `json:"organizationId"`
}

type Output struct {
	OrganizationID string                     `json:"organizationId"`
	Alerts         []models.NotificationAlert `json:"alerts"`
	Counts         models.AlertCounts         `json:"counts"`
	RefreshedAt    string                     `json:"refreshedAt,omitempty"` // ISO 8601
	Stale          bool                       `json:"stale"`
	ErrorCode      string                     `json:"errorCode,omitempty"`
}
