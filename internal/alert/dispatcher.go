// Package alert delivers expiry warnings to the operator over email and
// SMS. Channels degrade independently: a dead SMTP server does not stop
// the SMS, and vice versa.
package alert

import (
	"context"

	"token-warden/internal/common/logging"
	"token-warden/internal/config"
	"token-warden/internal/notify"
)

// Channel is one delivery mechanism for an alert.
type Channel interface {
	Send(ctx context.Context, a notify.Alert) error
}

type Dispatcher struct {
	email  Channel
	sms    Channel
	logger logging.Logger
}

var _ notify.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher from the configured channels. Either
// channel may be absent; SMS in particular degrades silently when AWS
// credentials are not present.
func NewDispatcher(cfg *config.Config, logger logging.Logger) *Dispatcher {
	d := &Dispatcher{
		logger: logger.WithFields(logging.Field{Key: "component", Value: "alert"}),
	}

	if cfg.SMTPEnabled() && cfg.AlertEmailTo != "" {
		d.email = NewEmailChannel(cfg, logger)
	} else {
		d.logger.Warn("email channel not configured, alerts will skip email")
	}

	if cfg.SMSEnabled() {
		sms, err := NewSMSChannel(cfg, logger)
		if err != nil {
			d.logger.Error("failed to initialize SMS channel", err)
		} else {
			d.sms = sms
		}
	} else {
		d.logger.Info("sms channel not configured, alerts will skip SMS")
	}

	return d
}

// NewDispatcherWithChannels wires explicit channels, used by tests and by
// callers that build channels themselves. Nil channels are skipped.
func NewDispatcherWithChannels(email, sms Channel, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		email:  email,
		sms:    sms,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "alert"}),
	}
}

// Dispatch attempts every configured channel and reports which succeeded.
// Failures are logged, never propagated: the scheduler records the result
// and moves on. Email goes out for every alert; SMS only when the alert
// is urgent.
func (d *Dispatcher) Dispatch(ctx context.Context, a notify.Alert) notify.DispatchResult {
	var result notify.DispatchResult

	if d.email != nil {
		if err := d.email.Send(ctx, a); err != nil {
			d.logger.Error("email alert failed", err,
				logging.Field{Key: "type", Value: a.Type})
		} else {
			result.EmailSent = true
		}
	}

	if d.sms != nil && a.Urgent() {
		if err := d.sms.Send(ctx, a); err != nil {
			d.logger.Error("sms alert failed", err,
				logging.Field{Key: "type", Value: a.Type})
		} else {
			result.SMSSent = true
		}
	}

	return result
}
