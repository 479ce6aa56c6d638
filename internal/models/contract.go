// internal/models/contract.go
package models

import "time"

// ContractStatus is the appeal lifecycle state stored in contratos.status.
type ContractStatus string

const (
	StatusDraft            ContractStatus = "rascunho"
	StatusFiled            ContractStatus = "protocolado"
	StatusAwaitingJudgment ContractStatus = "aguardando_julgamento"
	StatusGranted          ContractStatus = "deferido"
	StatusDenied           ContractStatus = "indeferido"
	// Legacy values still present in older rows.
	StatusPending ContractStatus = "pendente"
	StatusSigned  ContractStatus = "assinado"
)

// OpenStatuses are the states whose active alerts are shown in the feed.
var OpenStatuses = []ContractStatus{
	StatusAwaitingJudgment,
	StatusDenied,
	StatusGranted,
	StatusSigned,
	StatusPending,
}

func (s ContractStatus) IsOpen() bool {
	for _, open := range OpenStatuses {
		if s == open {
			return true
		}
	}
	return false
}

// Contract maps a row of contratos. AlertActive and Read are independent flags:
// acknowledging sets Read without clearing AlertActive.
type Contract struct {
	ID                    string         `json:"id"`
	ClientID              string         `json:"clientId"`
	OrganizationID        string         `json:"organizationId"`
	ServiceID             string         `json:"serviceId"`
	Status                ContractStatus `json:"status"`
	AlertActive           bool           `json:"alertaAtivo"`
	Read                  bool           `json:"lido"`
	ReminderEnabled       bool           `json:"lembreteAtivado"`
	NotificationInterval  *int           `json:"intervaloNotificacao,omitempty"`
	NextReminderAt        *time.Time     `json:"dataProximoLembrete,omitempty"`
	LastNotifiedAt        *time.Time     `json:"dataUltimaNotificacao,omitempty"`
	LastCheckinNotifiedAt *time.Time     `json:"lastCheckinNotifiedAt,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// Client maps clientes; only active clients produce alerts.
type Client struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"nome"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"telefone,omitempty"`
	Active         bool   `json:"ativo"`
}
