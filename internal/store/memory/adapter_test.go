package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-warden/internal/store"
)

func TestInsertAssignsMetadata(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	rec := &store.TokenRecord{AccessToken: "at", RefreshToken: "rt", Active: true}
	id, err := a.InsertToken(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
}

func TestLatestActiveTokenOrdering(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clockNow := base
	a.SetClock(func() time.Time { return clockNow })

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "old", Active: true})
	require.NoError(t, err)

	clockNow = base.Add(time.Hour)
	newID, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "new", Active: true})
	require.NoError(t, err)

	latest, err := a.LatestActiveToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, newID, latest.ID)
}

func TestDeactivateActiveTokens(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "at", Active: true})
		require.NoError(t, err)
	}

	n, err := a.DeactivateActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	latest, err := a.LatestActiveToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	// Re-running is a no-op.
	n, err = a.DeactivateActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLatestRefreshableTokenIgnoresActiveFlag(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "at", RefreshToken: "rt", Active: true})
	require.NoError(t, err)
	_, err = a.DeactivateActiveTokens(ctx, time.Now())
	require.NoError(t, err)

	rec, err := a.LatestRefreshableToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rt", rec.RefreshToken)
	assert.False(t, rec.Active)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "bad", Active: true})
	require.NoError(t, err)

	n, err := a.InvalidateTokensByAccessToken(ctx, "bad", "provider_rejected", "401 unauthorized", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.InvalidateTokensByAccessToken(ctx, "bad", "provider_rejected", "401 unauthorized", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteAllTokens(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := a.InsertToken(ctx, &store.TokenRecord{AccessToken: "at"})
		require.NoError(t, err)
	}

	n, err := a.DeleteAllTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = a.DeleteAllTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNotificationLog(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	last, err := a.LastNotification(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	require.NoError(t, a.AppendNotification(ctx, &store.NotificationEntry{
		Date: time.Now(), Type: store.NotificationRegular, EmailSent: true,
	}))
	require.NoError(t, a.AppendNotification(ctx, &store.NotificationEntry{
		Date: time.Now(), Type: store.NotificationEmergency, EmailSent: true, SMSSent: true,
	}))

	last, err = a.LastNotification(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.NotificationEmergency, last.Type)

	regular, err := a.LastNotificationOfType(ctx, store.NotificationRegular)
	require.NoError(t, err)
	require.NotNil(t, regular)
	assert.Equal(t, store.NotificationRegular, regular.Type)

	missing, err := a.LastNotificationOfType(ctx, "bogus")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCycleEvents(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	require.NoError(t, a.AppendCycleEvent(ctx, &store.CycleEvent{
		Date: time.Now(), Action: store.CycleCancelled, Reason: "token_renewed",
	}))

	last, err := a.LastCycleEvent(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.CycleCancelled, last.Action)
}

func TestUsers(t *testing.T) {
	a := NewAdapter()
	ctx := context.Background()

	user, err := a.CreateUser(ctx, "admin", "hunter2hunter2")
	require.NoError(t, err)
	assert.True(t, user.IsDefault)

	_, err = a.CreateUser(ctx, "admin", "other")
	assert.Error(t, err)

	validated, err := a.ValidateUser(ctx, "admin", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, validated.ID)

	_, err = a.ValidateUser(ctx, "admin", "wrong")
	assert.Error(t, err)

	_, err = a.ValidateUser(ctx, "ghost", "whatever")
	assert.Error(t, err)

	count, err := a.UserCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
