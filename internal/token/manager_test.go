package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-warden/internal/common/errors"
	"token-warden/internal/common/logging"
	"token-warden/internal/provider"
	"token-warden/internal/store"
	"token-warden/internal/store/memory"
)

type fakeProvider struct {
	refreshResp      *provider.TokenResponse
	refreshErr       error
	refreshCalls     int
	lastRefreshToken string
}

func (f *fakeProvider) Exchange(ctx context.Context, code string) (*provider.TokenResponse, error) {
	return f.refreshResp, f.refreshErr
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	f.refreshCalls++
	f.lastRefreshToken = refreshToken
	return f.refreshResp, f.refreshErr
}

// failingStore overrides selected operations with injected errors.
type failingStore struct {
	store.Store
	insertErr error
	latestErr error
}

func (f *failingStore) InsertToken(ctx context.Context, rec *store.TokenRecord) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	return f.Store.InsertToken(ctx, rec)
}

func (f *failingStore) LatestActiveToken(ctx context.Context) (*store.TokenRecord, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.Store.LatestActiveToken(ctx)
}

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	logger, err := logging.NewZapLogger(logging.Config{Level: logging.ErrorLevel})
	require.NoError(t, err)
	return logger
}

func newTestManager(t *testing.T) (*Manager, *memory.Adapter, *fakeProvider) {
	t.Helper()
	st := memory.NewAdapter()
	prov := &fakeProvider{}
	logger := testLogger(t)
	fallback := NewFallback(t.TempDir(), logger)
	return NewManager(st, prov, fallback, logger), st, prov
}

func freshPayload(access string) *provider.TokenResponse {
	return &provider.TokenResponse{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		TokenType:    "Bearer",
		ExpiresIn:    21600,
	}
}

func TestCreateKeepsSingleActiveToken(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, freshPayload("one"))
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := m.Create(ctx, freshPayload("two"))
	require.NoError(t, err)
	assert.True(t, second.Active)

	actives, err := st.ActiveTokens(ctx)
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "two", actives[0].AccessToken)

	demoted, err := st.GetToken(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, demoted.Active)
	assert.NotNil(t, demoted.DeactivatedAt)
}

func TestCreateRejectsEmptyPayload(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Create(context.Background(), nil)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = m.Create(context.Background(), &provider.TokenResponse{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestCreateStoreFailureWritesFallback(t *testing.T) {
	st := &failingStore{
		Store:     memory.NewAdapter(),
		insertErr: errors.StoreUnavailable("store down", nil),
	}
	logger := testLogger(t)
	dir := t.TempDir()
	fallback := NewFallback(dir, logger)
	m := NewManager(st, &fakeProvider{}, fallback, logger)

	_, err := m.Create(context.Background(), freshPayload("doomed"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStoreUnavailable))

	rec := fallback.ReadActive()
	require.NotNil(t, rec)
	assert.Equal(t, "doomed", rec.AccessToken)
}

func TestActiveReturnsNilNilWhenNothingExists(t *testing.T) {
	m, _, _ := newTestManager(t)

	rec, err := m.Active(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestActiveTouchesAndReturnsFreshToken(t *testing.T) {
	m, st, prov := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("current"))
	require.NoError(t, err)

	later := created.CreatedAt.Add(time.Hour)
	m.SetClock(func() time.Time { return later })

	rec, err := m.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "current", rec.AccessToken)
	assert.Equal(t, 0, prov.refreshCalls)

	stored, err := st.GetToken(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, later, stored.LastUsed)
}

func TestActiveRefreshesInsideMargin(t *testing.T) {
	m, st, prov := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("stale"))
	require.NoError(t, err)

	// One second inside the refresh margin.
	expiry := created.CreatedAt.Add(time.Duration(created.ExpiresIn) * time.Second)
	m.SetClock(func() time.Time { return expiry.Add(-RefreshMargin + time.Second) })
	prov.refreshResp = freshPayload("rotated")

	rec, err := m.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "rotated", rec.AccessToken)
	assert.Equal(t, 1, prov.refreshCalls)
	assert.Equal(t, "refresh-stale", prov.lastRefreshToken)

	actives, err := st.ActiveTokens(ctx)
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "rotated", actives[0].AccessToken)
}

func TestShouldRefreshBoundary(t *testing.T) {
	m, _, _ := newTestManager(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &store.TokenRecord{CreatedAt: created, ExpiresIn: 21600}
	expiry := created.Add(21600 * time.Second)

	assert.False(t, m.ShouldRefresh(rec, expiry.Add(-RefreshMargin-time.Second)))
	assert.True(t, m.ShouldRefresh(rec, expiry.Add(-RefreshMargin)))
	assert.True(t, m.ShouldRefresh(rec, expiry.Add(-RefreshMargin+time.Second)))
	assert.True(t, m.ShouldRefresh(rec, expiry))

	assert.True(t, m.ShouldRefresh(&store.TokenRecord{ExpiresIn: 21600}, created))
}

func TestActiveSurvivesTransientRefreshFailure(t *testing.T) {
	m, _, prov := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("wobbly"))
	require.NoError(t, err)

	expiry := created.CreatedAt.Add(time.Duration(created.ExpiresIn) * time.Second)
	m.SetClock(func() time.Time { return expiry.Add(-time.Minute) })
	prov.refreshErr = errors.ProviderTransient("provider melting", nil)

	rec, err := m.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "wobbly", rec.AccessToken)
}

func TestActiveSurfacesProviderRejection(t *testing.T) {
	m, st, prov := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("dead"))
	require.NoError(t, err)

	expiry := created.CreatedAt.Add(time.Duration(created.ExpiresIn) * time.Second)
	m.SetClock(func() time.Time { return expiry })
	prov.refreshErr = errors.ProviderRejected("invalid_grant", nil)

	_, err = m.Active(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProviderRejected))

	// The rejected chain is invalidated, not left active.
	actives, listErr := st.ActiveTokens(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, actives)

	stored, getErr := st.GetToken(ctx, created.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "refresh_rejected", stored.InvalidationReason)
}

func TestRefreshBadRequestWithoutInvalidGrantKeepsActiveToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer srv.Close()

	st := memory.NewAdapter()
	logger := testLogger(t)
	prov := provider.NewClient(&provider.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
	}, logger)
	m := NewManager(st, prov, NewFallback(t.TempDir(), logger), logger)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("still-good"))
	require.NoError(t, err)

	_, err = m.Refresh(ctx, created.RefreshToken)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProviderTransient))

	// A malformed or glitchy 400 is not a verdict on the stored
	// credential; the chain stays intact.
	actives, listErr := st.ActiveTokens(ctx)
	require.NoError(t, listErr)
	require.Len(t, actives, 1)
	assert.Equal(t, created.ID, actives[0].ID)
	assert.Empty(t, actives[0].InvalidationReason)
}

func TestActiveRecoversFromRefreshableToken(t *testing.T) {
	m, st, prov := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("orphan"))
	require.NoError(t, err)
	_, err = st.DeactivateActiveTokens(ctx, created.CreatedAt.Add(time.Minute))
	require.NoError(t, err)

	prov.refreshResp = freshPayload("revived")

	rec, err := m.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "revived", rec.AccessToken)
	assert.Equal(t, "refresh-orphan", prov.lastRefreshToken)
}

func TestActiveFallsBackToDiskWhenStoreDown(t *testing.T) {
	logger := testLogger(t)
	dir := t.TempDir()
	fallback := NewFallback(dir, logger)
	fallback.WriteSnapshot(&store.TokenRecord{AccessToken: "from-disk", Active: true})

	st := &failingStore{
		Store:     memory.NewAdapter(),
		latestErr: errors.StoreUnavailable("store down", nil),
	}
	m := NewManager(st, &fakeProvider{}, fallback, logger)

	rec, err := m.Active(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "from-disk", rec.AccessToken)
}

func TestRefreshRequiresToken(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Refresh(context.Background(), "")
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestMarkInvalidIsIdempotent(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, freshPayload("compromised"))
	require.NoError(t, err)

	m.MarkInvalid(ctx, created, "rejected_by_provider", "invalid_token")
	m.MarkInvalid(ctx, created, "rejected_by_provider", "invalid_token")

	stored, err := st.GetToken(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, "rejected_by_provider", stored.InvalidationReason)
	assert.Equal(t, "invalid_token", stored.InvalidationError)
}

func TestDeleteAll(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, freshPayload("a"))
	require.NoError(t, err)
	_, err = m.Create(ctx, freshPayload("b"))
	require.NoError(t, err)

	n, err := m.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := m.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBearer(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Bearer(ctx)
	assert.ErrorIs(t, err, ErrAuthorizationRequired)

	_, err = m.Create(ctx, freshPayload("usable"))
	require.NoError(t, err)

	header, err := m.Bearer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer usable", header)
}
