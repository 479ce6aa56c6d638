// internal/models/notification.go
package models

import "time"

// AlertTier is the escalation level of an alert.
type AlertTier string

const (
	TierUrgent    AlertTier = "urgente"
	TierAttention AlertTier = "atencao"
)

// NotificationAlert is derived from an active contract on every fetch and never stored.
type NotificationAlert struct {
	ContractID        string         `json:"contractId"`
	ClientID          string         `json:"clientId"`
	ClientName        string         `json:"clientName"`
	ClientEmail       string         `json:"clientEmail,omitempty"`
	ClientPhone       string         `json:"clientPhone,omitempty"`
	ServiceName       string         `json:"serviceName,omitempty"`
	Status            ContractStatus `json:"status"`
	DaysSinceCheckin  int            `json:"diasDesdeUltimoCheckin"`
	EffectiveInterval int            `json:"intervaloEfetivo"`
	Tier              AlertTier      `json:"tipo"`
	Read              bool           `json:"lido"`
}

// AlertCounts feeds the notification badge. Urgent and Attention count unread alerts only.
type AlertCounts struct {
	Total     int `json:"total"`
	Unread    int `json:"unread"`
	Urgent    int `json:"urgent"`
	Attention int `json:"attention"`
}

// Snapshot is the alert list produced by one refresh of an organization.
type Snapshot struct {
	OrganizationID string              `json:"organizationId"`
	Alerts         []NotificationAlert `json:"alerts"`
	RefreshedAt    time.Time           `json:"refreshedAt"`
	Stale          bool                `json:"stale"`
}

func (s Snapshot) Counts() AlertCounts {
	c := AlertCounts{Total: len(s.Alerts)}
	for _, a := range s.Alerts {
		if a.Read {
			continue
		}
		c.Unread++
		if a.Tier == TierUrgent {
			c.Urgent++
		} else {
			c.Attention++
		}
	}
	return c
}

// Unread returns the alerts still waiting for a check-in, in snapshot order.
func (s Snapshot) Unread() []NotificationAlert {
	out := make([]NotificationAlert, 0, len(s.Alerts))
	for _, a := range s.Alerts {
		if !a.Read {
			out = append(out, a)
		}
	}
	return out
}
