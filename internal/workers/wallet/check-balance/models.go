// internal/workers/wallet/check-balance/models.go
package checkbalance

import "github.com/shopspring/decimal"

// Input.Amount accepts a JSON number or a decimal string.
type Input struct {
	OrganizationID string          `json:"organizationId"`
	Amount         decimal.Decimal `json:"amount"`
}

type Output struct {
	Sufficient   bool            `json:"sufficient"`
	Amount       decimal.Decimal `json:"amount"`
	SaldoSacavel decimal.Decimal `json:"saldoSacavel"`
	SaldoBonus   decimal.Decimal `json:"saldoBonus"`
	Total        decimal.Decimal `json:"total"`
}
