// Package notify contacts clients about their active check-in alerts.
package notify

import (
	"context"
	"time"

	"appeals-workers/internal/alerts"
	"appeals-workers/internal/common/config"
	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/internal/common/logger"
	"appeals-workers/internal/common/metrics"
	"appeals-workers/internal/models"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	StatusSent      = "sent"
	StatusNoChannel = "no_channel"
)

// AlertSource resolves and acknowledges alerts; *alerts.Engine satisfies it.
type AlertSource interface {
	Contact(ctx context.Context, organizationID, contractID string) (models.NotificationAlert, error)
	Acknowledge(ctx context.Context, organizationID, contractID string) (*alerts.AcknowledgeResult, error)
}

type Mailer interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

type Texter interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
}

func ConfigFrom(cfg config.NotificationConfig) Config {
	return Config{
		EmailEnabled: cfg.Email.Enabled,
		SMSEnabled:   cfg.SMS.Enabled,
	}
}

type Messenger struct {
	source AlertSource
	mailer Mailer
	texter Texter
	config Config
	logger logger.Logger
}

// NewMessenger builds a messenger. A nil mailer or texter disables that channel.
func NewMessenger(source AlertSource, mailer Mailer, texter Texter, cfg Config, log logger.Logger) *Messenger {
	return &Messenger{
		source: source,
		mailer: mailer,
		texter: texter,
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// Delivery reports which channels reached the client and the check-in that followed.
type Delivery struct {
	ContractID     string
	Status         string
	Channels       []string
	EmailMessageID string
	SMSMessageID   string
	Acknowledged   bool
	NextReminderAt *time.Time
	Snapshot       *models.Snapshot
}

// SendCheckin messages the client behind contractID and, once at least one channel
// delivered, acknowledges the alert. Email goes to every client with an address; SMS
// only to urgent alerts. A non-empty message replaces the default text on both channels.
//
// When the acknowledge fails after delivery the Delivery is still returned without
// error and Acknowledged is false, so a retry does not message the client twice.
func (m *Messenger) SendCheckin(ctx context.Context, organizationID, contractID, message string) (*Delivery, error) {
	alert, err := m.source.Contact(ctx, organizationID, contractID)
	if err != nil {
		return nil, err
	}

	useEmail := m.config.EmailEnabled && m.mailer != nil && alert.ClientEmail != ""
	useSMS := m.config.SMSEnabled && m.texter != nil && alert.ClientPhone != "" && alert.Tier == models.TierUrgent

	delivery := &Delivery{ContractID: contractID, Status: StatusNoChannel, Channels: []string{}}
	if !useEmail && !useSMS {
		m.logger.Warn("no channel available for check-in", map[string]interface{}{
			"organizationId": organizationID,
			"contractId":     contractID,
			"tier":           alert.Tier,
		})
		return delivery, nil
	}

	if useEmail {
		id, err := m.mailer.SendText(ctx, alert.ClientEmail, emailSubject(alert), pick(message, emailBody(alert)))
		if err != nil {
			return nil, m.deliveryFailure(ChannelEmail, organizationID, contractID, err)
		}
		delivery.EmailMessageID = id
		delivery.Channels = append(delivery.Channels, ChannelEmail)
		metrics.CheckinMessagesSent.WithLabelValues(ChannelEmail).Inc()
	}

	if useSMS {
		id, err := m.texter.SendSMS(ctx, alert.ClientPhone, pick(message, smsBody(alert)))
		switch {
		case err == nil:
			delivery.SMSMessageID = id
			delivery.Channels = append(delivery.Channels, ChannelSMS)
			metrics.CheckinMessagesSent.WithLabelValues(ChannelSMS).Inc()
		case len(delivery.Channels) == 0:
			return nil, m.deliveryFailure(ChannelSMS, organizationID, contractID, err)
		default:
			m.logger.Warn("sms failed after email was delivered", map[string]interface{}{
				"organizationId": organizationID,
				"contractId":     contractID,
				"error":          err,
			})
		}
	}
	delivery.Status = StatusSent

	ack, err := m.source.Acknowledge(ctx, organizationID, contractID)
	if err != nil {
		m.logger.Error("check-in delivered but not acknowledged", map[string]interface{}{
			"organizationId": organizationID,
			"contractId":     contractID,
			"channels":       delivery.Channels,
			"error":          err,
		})
		return delivery, nil
	}

	delivery.Acknowledged = true
	delivery.NextReminderAt = &ack.NextReminderAt
	delivery.Snapshot = &ack.Snapshot

	m.logger.Info("check-in message sent", map[string]interface{}{
		"organizationId": organizationID,
		"contractId":     contractID,
		"channels":       delivery.Channels,
	})
	return delivery, nil
}

func (m *Messenger) deliveryFailure(channel, organizationID, contractID string, err error) error {
	m.logger.Error("check-in delivery failed", map[string]interface{}{
		"organizationId": organizationID,
		"contractId":     contractID,
		"channel":        channel,
		"error":          err,
	})
	return apperrors.NewNotificationFailedError(channel, err)
}
