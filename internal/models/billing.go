// internal/models/billing.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BillingStatusPaid            = "paid"
	PaymentMethodInternalBalance = "saldo_interno"
	DefaultBillingCategory       = "consumo"
)

// BillingEntry maps a row of faturamento. Rows are append-only; a negative
// Amount is consumption.
type BillingEntry struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	UserID         string          `json:"userId"`
	Amount         decimal.Decimal `json:"valor"`
	Status         string          `json:"status"`
	Category       string          `json:"categoria"`
	Description    string          `json:"descricao"`
	PaymentMethod  string          `json:"metodoPagamento"`
	CreatedAt      time.Time       `json:"createdAt"`
}
