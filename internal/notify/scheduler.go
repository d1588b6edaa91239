// Package notify watches the refresh-token lifetime and raises alerts
// before the 30-day window closes.
package notify

import (
	"context"
	"math"
	"time"

	"token-warden/internal/common/logging"
	"token-warden/internal/store"
)

// RefreshTokenLifetime is how long the provider honors a refresh token.
// This is the long fuse the scheduler watches, distinct from the access
// token's ExpiresIn.
const RefreshTokenLifetime = 30 * 24 * time.Hour

// Alert thresholds in days remaining.
const (
	emergencyThreshold = 1
	regularThreshold   = 5
)

// Alert describes one expiry warning handed to the dispatcher.
type Alert struct {
	Type          string // store.NotificationRegular or store.NotificationEmergency
	DaysRemaining int
	ExpiresAt     time.Time
	TokenMissing  bool
}

// Urgent reports whether the alert warrants the escalated delivery path.
func (a Alert) Urgent() bool {
	return a.TokenMissing || a.Type == store.NotificationEmergency
}

// DispatchResult reports per-channel delivery.
type DispatchResult struct {
	EmailSent bool
	SMSSent   bool
}

// Dispatcher delivers alerts over the configured channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Alert) DispatchResult
}

// TokenSource is the slice of the token manager the scheduler needs.
type TokenSource interface {
	Active(ctx context.Context) (*store.TokenRecord, error)
}

// Cycle states derived from the log tail.
const (
	StateQuiet     = "quiet"
	StateWarned    = "warned"
	StateEscalated = "escalated"
	StateResolved  = "resolved"
)

type Scheduler struct {
	store      store.Store
	tokens     TokenSource
	dispatcher Dispatcher
	logger     logging.Logger
	now        func() time.Time
}

func NewScheduler(st store.Store, tokens TokenSource, dispatcher Dispatcher, logger logging.Logger) *Scheduler {
	return &Scheduler{
		store:      st,
		tokens:     tokens,
		dispatcher: dispatcher,
		logger:     logger.WithFields(logging.Field{Key: "component", Value: "notify"}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source, used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// DaysRemaining is the whole days until the refresh token window closes,
// negative once it has passed.
func DaysRemaining(createdAt, now time.Time) int {
	until := createdAt.UTC().Add(RefreshTokenLifetime).Sub(now.UTC())
	return int(math.Floor(until.Hours() / 24))
}

// CheckExpiration runs the daily decision: how close is the refresh token
// to the end of its window, and does that warrant an alert today. Returns
// whether an alert fired.
func (s *Scheduler) CheckExpiration(ctx context.Context) (bool, error) {
	now := s.now()

	rec, err := s.tokens.Active(ctx)
	if err != nil || rec == nil {
		// No usable credential at all is worse than an expiring one.
		if err != nil {
			s.logger.Error("could not resolve active token", err)
		}
		s.fire(ctx, Alert{
			Type:          store.NotificationEmergency,
			DaysRemaining: 0,
			TokenMissing:  true,
		})
		return true, nil
	}

	expiresAt := rec.CreatedAt.UTC().Add(RefreshTokenLifetime)
	days := DaysRemaining(rec.CreatedAt, now)

	switch {
	case days <= emergencyThreshold:
		last, lookupErr := s.store.LastNotificationOfType(ctx, store.NotificationEmergency)
		if lookupErr != nil {
			return false, lookupErr
		}
		if last != nil && sameDay(last.Date, now) {
			s.logger.Debug("emergency alert already sent today")
			return false, nil
		}
		s.fire(ctx, Alert{
			Type:          store.NotificationEmergency,
			DaysRemaining: days,
			ExpiresAt:     expiresAt,
		})
		return true, nil

	case days <= regularThreshold:
		last, lookupErr := s.store.LastNotification(ctx)
		if lookupErr != nil {
			return false, lookupErr
		}
		// Every-other-day cadence: skip when an alert went out today
		// or yesterday.
		if last != nil && !last.Date.UTC().Before(now.AddDate(0, 0, -1).Truncate(24*time.Hour)) {
			s.logger.Debug("regular alert throttled",
				logging.Field{Key: "last_alert", Value: last.Date})
			return false, nil
		}
		s.fire(ctx, Alert{
			Type:          store.NotificationRegular,
			DaysRemaining: days,
			ExpiresAt:     expiresAt,
		})
		return true, nil
	}

	s.logger.Debug("token well within lifetime",
		logging.Field{Key: "days_remaining", Value: days})
	return false, nil
}

func (s *Scheduler) fire(ctx context.Context, a Alert) {
	result := s.dispatcher.Dispatch(ctx, a)

	entry := &store.NotificationEntry{
		Date:      s.now(),
		Type:      a.Type,
		EmailSent: result.EmailSent,
		SMSSent:   result.SMSSent,
	}
	if err := s.store.AppendNotification(ctx, entry); err != nil {
		s.logger.Error("failed to record notification", err)
	}

	s.logger.Warn("expiry alert fired",
		logging.Field{Key: "type", Value: a.Type},
		logging.Field{Key: "days_remaining", Value: a.DaysRemaining},
		logging.Field{Key: "email_sent", Value: result.EmailSent},
		logging.Field{Key: "sms_sent", Value: result.SMSSent})
}

// CheckRenewed detects that the operator responded to an alert with a new
// authorization: a token created after the last notification cancels the
// alert cycle. Exactly one renewal record is written per notification.
func (s *Scheduler) CheckRenewed(ctx context.Context) (bool, error) {
	lastNotification, err := s.store.LastNotification(ctx)
	if err != nil {
		return false, err
	}
	if lastNotification == nil {
		return false, nil
	}

	rec, err := s.tokens.Active(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	if !rec.CreatedAt.UTC().After(lastNotification.Date.UTC()) {
		return false, nil
	}

	lastRenewal, err := s.store.LastRenewal(ctx)
	if err != nil {
		return false, err
	}
	if lastRenewal != nil && !lastRenewal.NotificationDate.UTC().Before(lastNotification.Date.UTC()) {
		// This notification is already resolved.
		return false, nil
	}

	now := s.now()
	if err := s.store.AppendRenewal(ctx, &store.RenewalEntry{
		Date:             now,
		TokenID:          rec.ID,
		NotificationDate: lastNotification.Date,
		Success:          true,
	}); err != nil {
		return false, err
	}
	if err := s.store.AppendCycleEvent(ctx, &store.CycleEvent{
		Date:   now,
		Action: store.CycleCancelled,
		Reason: "token renewed",
	}); err != nil {
		return false, err
	}

	s.logger.Info("alert cycle cancelled, token renewed",
		logging.Field{Key: "token_id", Value: rec.ID})
	return true, nil
}

// CycleActive reports whether an alert cycle is currently running: a
// notification exists, it is less than 24 hours old, and no cancellation
// has been recorded since it fired.
func (s *Scheduler) CycleActive(ctx context.Context) (bool, error) {
	lastNotification, err := s.store.LastNotification(ctx)
	if err != nil {
		return false, err
	}
	if lastNotification == nil {
		return false, nil
	}

	lastCycle, err := s.store.LastCycleEvent(ctx)
	if err != nil {
		return false, err
	}
	if lastCycle != nil && lastCycle.Action == store.CycleCancelled &&
		!lastCycle.Date.UTC().Before(lastNotification.Date.UTC()) {
		return false, nil
	}

	return s.now().Sub(lastNotification.Date.UTC()) < 24*time.Hour, nil
}

// StatusReport is the ops-endpoint view of the alert cycle.
type StatusReport struct {
	State            string                   `json:"state"`
	CycleActive      bool                     `json:"cycle_active"`
	LastNotification *store.NotificationEntry `json:"last_notification,omitempty"`
	LastRenewal      *store.RenewalEntry      `json:"last_renewal,omitempty"`
	DaysRemaining    *int                     `json:"days_remaining,omitempty"`
	ExpiresAt        *time.Time               `json:"expires_at,omitempty"`
}

// Status assembles the current cycle state from the log tails.
func (s *Scheduler) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{State: StateQuiet}

	lastNotification, err := s.store.LastNotification(ctx)
	if err != nil {
		return nil, err
	}
	report.LastNotification = lastNotification

	lastRenewal, err := s.store.LastRenewal(ctx)
	if err != nil {
		return nil, err
	}
	report.LastRenewal = lastRenewal

	active, err := s.CycleActive(ctx)
	if err != nil {
		return nil, err
	}
	report.CycleActive = active

	switch {
	case lastNotification == nil:
		report.State = StateQuiet
	case lastRenewal != nil && !lastRenewal.NotificationDate.UTC().Before(lastNotification.Date.UTC()):
		report.State = StateResolved
	case lastNotification.Type == store.NotificationEmergency:
		report.State = StateEscalated
	default:
		report.State = StateWarned
	}

	if rec, tokenErr := s.tokens.Active(ctx); tokenErr == nil && rec != nil {
		days := DaysRemaining(rec.CreatedAt, s.now())
		expiresAt := rec.CreatedAt.UTC().Add(RefreshTokenLifetime)
		report.DaysRemaining = &days
		report.ExpiresAt = &expiresAt
	}

	return report, nil
}
