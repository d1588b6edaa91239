// Package token implements the credential lifecycle: acquisition,
// single-active bookkeeping, proactive refresh, and invalidation.
package token

import (
	"context"
	stderrors "errors"
	"time"

	"token-warden/internal/common/errors"
	"token-warden/internal/common/logging"
	"token-warden/internal/provider"
	"token-warden/internal/store"
)

// RefreshMargin is how long before access-token expiry a refresh is
// triggered. Callers never see a token within this window of dying.
const RefreshMargin = 10 * time.Minute

// ErrAuthorizationRequired signals that no usable token exists anywhere
// and an operator must run the authorization flow again.
var ErrAuthorizationRequired = stderrors.New("authorization required")

// Provider is the slice of the provider client the manager needs.
type Provider interface {
	Exchange(ctx context.Context, code string) (*provider.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error)
}

type Manager struct {
	store    store.Store
	provider Provider
	fallback *Fallback
	logger   logging.Logger
	now      func() time.Time
}

func NewManager(st store.Store, prov Provider, fallback *Fallback, logger logging.Logger) *Manager {
	return &Manager{
		store:    st,
		provider: prov,
		fallback: fallback,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "token"}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source, used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Now reports the manager's current time, so callers computing deadlines
// against stored records share its clock.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Create stores a freshly issued token pair as the single active record.
// Whatever was active before is demoted first; a failure there is logged
// but does not block the new credential. If the store itself is down the
// pair is preserved on disk before the error surfaces.
func (m *Manager) Create(ctx context.Context, payload *provider.TokenResponse) (*store.TokenRecord, error) {
	if payload == nil || payload.AccessToken == "" {
		return nil, errors.Validation("token payload missing access_token")
	}

	if n, err := m.store.DeactivateActiveTokens(ctx, m.now()); err != nil {
		m.logger.Warn("failed to deactivate previous tokens", logging.Err(err))
	} else if n > 0 {
		m.logger.Info("deactivated previous tokens", logging.Field{Key: "count", Value: n})
	}

	rec := &store.TokenRecord{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
		ExpiresIn:    payload.ExpiresIn,
		Active:       true,
	}

	id, err := m.store.InsertToken(ctx, rec)
	if err != nil {
		rec.CreatedAt = m.now()
		rec.LastUsed = rec.CreatedAt
		m.fallback.WriteSnapshot(rec)
		return nil, err
	}

	m.logger.Info("stored new token",
		logging.Field{Key: "token_id", Value: id},
		logging.Field{Key: "expires_in", Value: rec.ExpiresIn})
	return rec, nil
}

// Active returns the current usable token record, refreshing it first if
// it is inside the expiry margin. The search order is: newest active
// record, then newest refreshable record (refreshed opportunistically),
// then the disk fallback. No token anywhere is a state, not an error:
// the result is (nil, nil).
func (m *Manager) Active(ctx context.Context) (*store.TokenRecord, error) {
	rec, err := m.store.LatestActiveToken(ctx)
	if err != nil {
		m.logger.Warn("store unavailable, trying disk fallback", logging.Err(err))
		if fb := m.fallback.ReadActive(); fb != nil {
			return fb, nil
		}
		return nil, err
	}

	if rec == nil {
		return m.recover(ctx)
	}

	if touchErr := m.store.TouchToken(ctx, rec.ID, m.now()); touchErr != nil {
		m.logger.Warn("failed to record token use", logging.Err(touchErr))
	}

	if m.ShouldRefresh(rec, m.now()) {
		refreshed, refreshErr := m.Refresh(ctx, rec.RefreshToken)
		if refreshErr != nil {
			if errors.IsKind(refreshErr, errors.KindProviderRejected) {
				return nil, refreshErr
			}
			// A transient refresh failure leaves the current record in
			// place; it may still have a few minutes of life left.
			m.logger.Warn("refresh failed, serving current token", logging.Err(refreshErr))
			return rec, nil
		}
		return refreshed, nil
	}
	return rec, nil
}

// recover runs when no active record exists: the newest record that still
// carries a refresh token is refreshed into a new active pair, else the
// disk fallback is consulted.
func (m *Manager) recover(ctx context.Context) (*store.TokenRecord, error) {
	rec, err := m.store.LatestRefreshableToken(ctx)
	if err != nil {
		m.logger.Warn("failed to look up refreshable token", logging.Err(err))
		rec = nil
	}

	if rec != nil {
		refreshed, refreshErr := m.Refresh(ctx, rec.RefreshToken)
		if refreshErr == nil {
			m.logger.Info("recovered token via refresh",
				logging.Field{Key: "source_token_id", Value: rec.ID})
			return refreshed, nil
		}
		m.logger.Warn("failed to recover token via refresh", logging.Err(refreshErr))
	}

	if fb := m.fallback.ReadActive(); fb != nil {
		m.logger.Info("serving token from disk fallback")
		return fb, nil
	}
	return nil, nil
}

// ShouldRefresh reports whether rec is within RefreshMargin of access
// token expiry at the given instant. Records with no creation time are
// always considered stale.
func (m *Manager) ShouldRefresh(rec *store.TokenRecord, now time.Time) bool {
	if rec.CreatedAt.IsZero() {
		return true
	}
	expiresAt := rec.CreatedAt.UTC().Add(time.Duration(rec.ExpiresIn) * time.Second)
	return !now.UTC().Before(expiresAt.Add(-RefreshMargin))
}

// Refresh exchanges refreshToken for a new pair and stores it via Create.
// A definitive provider rejection invalidates every active record, since
// the credential chain is dead and retrying cannot revive it.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*store.TokenRecord, error) {
	if refreshToken == "" {
		return nil, errors.Configuration("no refresh token available")
	}

	payload, err := m.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.IsKind(err, errors.KindProviderRejected) {
			m.invalidateActives(ctx, "refresh_rejected", err.Error())
		}
		return nil, err
	}
	return m.Create(ctx, payload)
}

func (m *Manager) invalidateActives(ctx context.Context, reason, providerErr string) {
	actives, err := m.store.ActiveTokens(ctx)
	if err != nil {
		m.logger.Warn("failed to list active tokens for invalidation", logging.Err(err))
		return
	}
	for _, rec := range actives {
		m.MarkInvalid(ctx, rec, reason, providerErr)
	}
}

// MarkInvalid deactivates every active record carrying rec's access token
// and writes a diagnostic snapshot. Safe to call repeatedly.
func (m *Manager) MarkInvalid(ctx context.Context, rec *store.TokenRecord, reason, providerErr string) {
	now := m.now()
	n, err := m.store.InvalidateTokensByAccessToken(ctx, rec.AccessToken, reason, providerErr, now)
	if err != nil {
		m.logger.Error("failed to invalidate token", err,
			logging.Field{Key: "token_id", Value: rec.ID})
		return
	}
	if n > 0 {
		m.logger.Warn("invalidated token",
			logging.Field{Key: "token_id", Value: rec.ID},
			logging.Field{Key: "reason", Value: reason},
			logging.Field{Key: "count", Value: n})
	}

	snapshot := *rec
	snapshot.Active = false
	snapshot.InvalidatedAt = &now
	snapshot.InvalidationReason = reason
	snapshot.InvalidationError = providerErr
	m.fallback.WriteInvalid(&snapshot)
}

// DeleteAll purges every token record. Admin surface only.
func (m *Manager) DeleteAll(ctx context.Context) (int, error) {
	n, err := m.store.DeleteAllTokens(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Warn("deleted all tokens", logging.Field{Key: "count", Value: n})
	return n, nil
}

// Bearer returns a ready-to-use Authorization header value, or
// ErrAuthorizationRequired when no usable token exists.
func (m *Manager) Bearer(ctx context.Context) (string, error) {
	rec, err := m.Active(ctx)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrAuthorizationRequired
	}
	return "Bearer " + rec.AccessToken, nil
}
