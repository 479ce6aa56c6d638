// internal/workers/billing/search-billing-entries/models.go
package searchbillingentries

import "github.com/shopspring/decimal"

type Input struct {
	OrganizationID string `json:"organizationId"`
	Category       string `json:"category,omitempty"`
	From           string `json:"from,omitempty"` // RFC 3339 or YYYY-MM-DD
	To             string `json:"to,omitempty"`   // RFC 3339 or YYYY-MM-DD, inclusive
	Page           int    `json:"page,omitempty"`
	PageSize       int    `json:"pageSize,omitempty"`
}

type Entry struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Amount        decimal.Decimal `json:"valor"`
	Status        string          `json:"status"`
	Category      string          `json:"categoria"`
	Description   string          `json:"descricao,omitempty"`
	PaymentMethod string          `json:"metodoPagamento,omitempty"`
	CreatedAt     string          `json:"createdAt"` // ISO 8601
}

type Output struct {
	Entries  []Entry `json:"entries"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}
