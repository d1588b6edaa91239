package store

import "time"

// TokenRecord is a stored OAuth token pair with lifecycle metadata.
// At most one record has Active=true at any time; the store enforces this
// through DeactivateActiveTokens before every insert of a new active record.
type TokenRecord struct {
	ID                 string     `json:"id"`
	AccessToken        string     `json:"access_token"`
	RefreshToken       string     `json:"refresh_token"`
	TokenType          string     `json:"token_type"`
	Scope              string     `json:"scope"`
	ExpiresIn          int        `json:"expires_in"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsed           time.Time  `json:"last_used"`
	Active             bool       `json:"active"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	InvalidatedAt      *time.Time `json:"invalidated_at,omitempty"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
	InvalidationError  string     `json:"invalidation_error,omitempty"`
}

// NotificationEntry is one append-only record of an expiry alert.
type NotificationEntry struct {
	Date      time.Time `json:"date"`
	Type      string    `json:"type"` // "regular" or "emergency"
	EmailSent bool      `json:"email_sent"`
	SMSSent   bool      `json:"sms_sent"`
}

// Notification types.
const (
	NotificationRegular   = "regular"
	NotificationEmergency = "emergency"
)

// RenewalEntry records that the operator renewed the token in response to
// an alert.
type RenewalEntry struct {
	Date             time.Time `json:"date"`
	TokenID          string    `json:"token_id"`
	NotificationDate time.Time `json:"notification_date"`
	Success          bool      `json:"success"`
}

// CycleEvent marks a transition in the alert cycle; currently only
// cancellations are recorded.
type CycleEvent struct {
	Date   time.Time `json:"date"`
	Action string    `json:"action"`
	Reason string    `json:"reason"`
}

// CycleCancelled is the only cycle action written today.
const CycleCancelled = "cancel_cycle"

// User is an operator account for the admin API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}
