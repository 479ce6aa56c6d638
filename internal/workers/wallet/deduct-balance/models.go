// internal/workers/wallet/deduct-balance/models.go
package deductbalance

import "github.com/shopspring/decimal"

type Input struct {
	OrganizationID string          `json:"organizationId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category,omitempty"`

	// JobKey is set from the activated job, not from variables.
	JobKey int64 `json:"-"`
}

type Output struct {
	EntryID          string          `json:"entryId"`
	Amount           decimal.Decimal `json:"amount"`
	BonusDebited     decimal.Decimal `json:"bonusDebited"`
	SpendableDebited decimal.Decimal `json:"spendableDebited"`
	SaldoSacavel     decimal.Decimal `json:"saldoSacavel"`
	SaldoBonus       decimal.Decimal `json:"saldoBonus"`
	AuditQueued      bool            `json:"auditQueued"`
	Replayed         bool            `json:"replayed"`
	CreatedAt        string          `json:"createdAt"` // ISO 8601
}
