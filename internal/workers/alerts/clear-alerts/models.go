// internal/workers/alerts/clear-alerts/models.go
package clearalerts

type Input struct {
	OrganizationID string `json:"organizationId"`
}

type Output struct {
	OrganizationID string `json:"organizationId"`
	Cleared        int64  `json:"cleared"`
	ClearedAt      string `json:"clearedAt,omitempty"` // ISO 8601
	ErrorCode      string `json:"errorCode,omitempty"`
}
