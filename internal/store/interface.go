// Package store defines the credential store contract and its record types.
// Adapters (sqlite, postgres, redis, memory) normalize every timestamp to
// UTC at this boundary; the core never branches on time representation.
package store

import (
	"context"
	"time"
)

// Store is the credential store used by the token lifecycle manager and the
// expiration scheduler. Absence is signalled with (nil, nil), never with an
// error: "no token" is a valid state callers must branch on.
type Store interface {
	Close() error
	Health() error

	// Tokens. InsertToken assigns ID, CreatedAt and LastUsed (store clock,
	// UTC) and persists the record as given otherwise.
	InsertToken(ctx context.Context, rec *TokenRecord) (string, error)
	GetToken(ctx context.Context, id string) (*TokenRecord, error)
	LatestActiveToken(ctx context.Context) (*TokenRecord, error)
	ActiveTokens(ctx context.Context) ([]*TokenRecord, error)
	// LatestRefreshableToken returns the newest record, active or not, that
	// still carries a refresh token.
	LatestRefreshableToken(ctx context.Context) (*TokenRecord, error)
	TouchToken(ctx context.Context, id string, at time.Time) error
	// DeactivateActiveTokens demotes every active record as a best-effort
	// batch and returns how many were demoted.
	DeactivateActiveTokens(ctx context.Context, at time.Time) (int, error)
	// InvalidateTokensByAccessToken deactivates every active record carrying
	// the given access token and stamps the invalidation metadata.
	// Idempotent: records already inactive are left alone.
	InvalidateTokensByAccessToken(ctx context.Context, accessToken, reason, providerError string, at time.Time) (int, error)
	DeleteAllTokens(ctx context.Context) (int, error)

	// Append-only alert bookkeeping.
	AppendNotification(ctx context.Context, e *NotificationEntry) error
	LastNotification(ctx context.Context) (*NotificationEntry, error)
	LastNotificationOfType(ctx context.Context, notificationType string) (*NotificationEntry, error)
	AppendRenewal(ctx context.Context, e *RenewalEntry) error
	LastRenewal(ctx context.Context) (*RenewalEntry, error)
	AppendCycleEvent(ctx context.Context, e *CycleEvent) error
	LastCycleEvent(ctx context.Context) (*CycleEvent, error)

	// Operator accounts.
	CreateUser(ctx context.Context, username, password string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ValidateUser(ctx context.Context, username, password string) (*User, error)
	UserCount(ctx context.Context) (int, error)
}
