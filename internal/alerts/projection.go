package alerts

import (
	"time"

	"appeals-workers/internal/common/config"
	"appeals-workers/internal/models"
)

const (
	// FallbackIntervalDays applies when neither the contract nor the organization sets one.
	FallbackIntervalDays = 7
	// UrgentAfterDays is the default escalation threshold.
	UrgentAfterDays = 3
)

// Policy holds the tunables of the projection.
type Policy struct {
	DefaultIntervalDays int
	UrgentAfterDays     int
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultIntervalDays: FallbackIntervalDays,
		UrgentAfterDays:     UrgentAfterDays,
	}
}

func PolicyFromConfig(cfg config.AlertsConfig) Policy {
	p := DefaultPolicy()
	if cfg.DefaultIntervalDays > 0 {
		p.DefaultIntervalDays = cfg.DefaultIntervalDays
	}
	if cfg.UrgentAfterDays > 0 {
		p.UrgentAfterDays = cfg.UrgentAfterDays
	}
	return p
}

// EffectiveInterval resolves contract override, then organization default, then fallback.
func EffectiveInterval(contractInterval, orgInterval *int, fallback int) int {
	if contractInterval != nil {
		return *contractInterval
	}
	if orgInterval != nil {
		return *orgInterval
	}
	return fallback
}

// ReferenceTime is the scheduled reminder, or the contract creation when none was scheduled.
func ReferenceTime(nextReminder *time.Time, createdAt time.Time) time.Time {
	if nextReminder != nil {
		return *nextReminder
	}
	return createdAt
}

// ElapsedDays counts whole days from ref to now, never negative.
func ElapsedDays(now, ref time.Time) int {
	d := now.Sub(ref)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func Classify(days, urgentAfter int) models.AlertTier {
	if days >= urgentAfter {
		return models.TierUrgent
	}
	return models.TierAttention
}

// alertRow is one contract joined with its client, service and organization.
type alertRow struct {
	ContractID       string
	ClientID         string
	Status           models.ContractStatus
	Read             bool
	ContractInterval *int
	NextReminderAt   *time.Time
	CreatedAt        time.Time
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ServiceName      string
	OrgInterval      *int
}

func (p Policy) project(rows []alertRow, now time.Time) []models.NotificationAlert {
	out := make([]models.NotificationAlert, 0, len(rows))
	for _, r := range rows {
		days := ElapsedDays(now, ReferenceTime(r.NextReminderAt, r.CreatedAt))
		out = append(out, models.NotificationAlert{
			ContractID:        r.ContractID,
			ClientID:          r.ClientID,
			ClientName:        r.ClientName,
			ClientEmail:       r.ClientEmail,
			ClientPhone:       r.ClientPhone,
			ServiceName:       r.ServiceName,
			Status:            r.Status,
			DaysSinceCheckin:  days,
			EffectiveInterval: EffectiveInterval(r.ContractInterval, r.OrgInterval, p.DefaultIntervalDays),
			Tier:              Classify(days, p.UrgentAfterDays),
			Read:              r.Read,
		})
	}
	return out
}
