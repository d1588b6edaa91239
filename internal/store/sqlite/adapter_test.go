package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(&Config{DatabasePath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func TestNewAdapterValidatesConfig(t *testing.T) {
	_, err := NewAdapter(&Config{})
	assert.Error(t, err)
}

func TestInsertAndGetToken(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	rec := &store.TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Scope:        "read write",
		ExpiresIn:    21600,
		Active:       true,
	}
	id, err := a.InsertToken(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())

	got, err := a.GetToken(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, 21600, got.ExpiresIn)
	assert.True(t, got.Active)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestGetTokenNotFound(t *testing.T) {
	a := newTestAdapter(t)

	got, err := a.GetToken(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLatestActiveTokenOrdering(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "old", Active: true})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "new", Active: true})
	require.NoError(t, err)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "inactive", Active: false})
	require.NoError(t, err)

	got, err := a.LatestActiveToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new", got.AccessToken)

	active, err := a.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Equal(t, "new", active[0].AccessToken)
}

func TestLatestActiveTokenEmpty(t *testing.T) {
	a := newTestAdapter(t)

	got, err := a.LatestActiveToken(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeactivateActiveTokens(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "a", Active: true})
	require.NoError(t, err)
	id, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "b", Active: true})
	require.NoError(t, err)

	at := time.Now().UTC()
	n, err := a.DeactivateActiveTokens(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := a.GetToken(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.DeactivatedAt)
	assert.WithinDuration(t, at, *got.DeactivatedAt, time.Millisecond)

	// Second pass finds nothing left to deactivate.
	n, err = a.DeactivateActiveTokens(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLatestRefreshableTokenIgnoresActiveFlag(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "a", RefreshToken: "r1", Active: true})
	require.NoError(t, err)
	_, err = a.DeactivateActiveTokens(ctx, time.Now().UTC())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "b", RefreshToken: "r2", Active: false})
	require.NoError(t, err)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "c", Active: true})
	require.NoError(t, err)

	got, err := a.LatestRefreshableToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r2", got.RefreshToken)
}

func TestTouchToken(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "a", Active: true})
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Hour)
	require.NoError(t, a.TouchToken(ctx, id, at))

	got, err := a.GetToken(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, at, got.LastUsed, time.Millisecond)

	err = a.TouchToken(ctx, "missing", at)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestInvalidateTokensByAccessToken(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	id, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "bad", Active: true})
	require.NoError(t, err)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "good", Active: true})
	require.NoError(t, err)

	n, err := a.InvalidateTokensByAccessToken(ctx, "bad", "rejected_by_provider", "invalid_grant", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := a.GetToken(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.NotNil(t, got.InvalidatedAt)
	assert.Equal(t, "rejected_by_provider", got.InvalidationReason)
	assert.Equal(t, "invalid_grant", got.InvalidationError)

	// Already inactive rows are not touched again.
	n, err = a.InvalidateTokensByAccessToken(ctx, "bad", "rejected_by_provider", "invalid_grant", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteAllTokens(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "a"})
	require.NoError(t, err)
	_, err = a.InsertToken(ctx, &store.TokenRecord{AccessToken: "b"})
	require.NoError(t, err)

	n, err := a.DeleteAllTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := a.LatestActiveToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNotificationLog(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	last, err := a.LastNotification(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, a.AppendNotification(ctx, &store.NotificationEntry{
		Date: time.Now().UTC().Add(-48 * time.Hour), Type: store.NotificationRegular, EmailSent: true,
	}))
	require.NoError(t, a.AppendNotification(ctx, &store.NotificationEntry{
		Date: time.Now().UTC(), Type: store.NotificationEmergency, EmailSent: true, SMSSent: true,
	}))

	last, err = a.LastNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.NotificationEmergency, last.Type)
	assert.True(t, last.SMSSent)

	regular, err := a.LastNotificationOfType(ctx, store.NotificationRegular)
	require.NoError(t, err)
	require.NotNil(t, regular)
	assert.Equal(t, store.NotificationRegular, regular.Type)

	missing, err := a.LastNotificationOfType(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRenewalLog(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	last, err := a.LastRenewal(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	notified := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, a.AppendRenewal(ctx, &store.RenewalEntry{
		Date: time.Now().UTC(), TokenID: "tok-1", NotificationDate: notified, Success: true,
	}))

	last, err = a.LastRenewal(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "tok-1", last.TokenID)
	assert.True(t, last.Success)
	assert.WithinDuration(t, notified, last.NotificationDate, time.Millisecond)
}

func TestCycleEventLog(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	last, err := a.LastCycleEvent(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, a.AppendCycleEvent(ctx, &store.CycleEvent{
		Date: time.Now().UTC(), Action: store.CycleCancelled, Reason: "token renewed",
	}))

	last, err = a.LastCycleEvent(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.CycleCancelled, last.Action)
	assert.Equal(t, "token renewed", last.Reason)
}

func TestUsers(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	count, err := a.UserCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	first, err := a.CreateUser(ctx, "admin", "secret-password")
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.NotEqual(t, "secret-password", first.PasswordHash)

	second, err := a.CreateUser(ctx, "bob", "another-password")
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	user, err := a.ValidateUser(ctx, "admin", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, first.ID, user.ID)

	_, err = a.ValidateUser(ctx, "admin", "wrong")
	assert.True(t, errors.IsKind(err, errors.KindAuth))

	_, err = a.ValidateUser(ctx, "nobody", "whatever")
	assert.True(t, errors.IsKind(err, errors.KindAuth))

	missing, err := a.GetUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
