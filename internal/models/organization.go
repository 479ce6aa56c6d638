// internal/models/organization.go
package models

import "github.com/shopspring/decimal"

type Organization struct {
	ID                   string          `json:"id"`
	SpendableBalance     decimal.Decimal `json:"saldoSacavel"`
	BonusBalance         decimal.Decimal `json:"saldoBonus"`
	NotificationInterval *int            `json:"intervaloNotificacao,omitempty"`
}
