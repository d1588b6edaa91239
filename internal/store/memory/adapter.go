// Package memory provides a map-backed Store for tests and store-less
// development runs. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

type Adapter struct {
	mu            sync.RWMutex
	tokens        map[string]*store.TokenRecord
	notifications []*store.NotificationEntry
	renewals      []*store.RenewalEntry
	cycleEvents   []*store.CycleEvent
	users         map[string]*store.User

	// clock is swappable so tests can control store-assigned timestamps.
	clock func() time.Time
}

var _ store.Store = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		tokens: make(map[string]*store.TokenRecord),
		users:  make(map[string]*store.User),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store clock. Test hook.
func (a *Adapter) SetClock(clock func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clock = clock
}

func (a *Adapter) Close() error  { return nil }
func (a *Adapter) Health() error { return nil }

func (a *Adapter) InsertToken(ctx context.Context, rec *store.TokenRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	stored := *rec
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.LastUsed = now
	a.tokens[stored.ID] = &stored

	rec.ID = stored.ID
	rec.CreatedAt = stored.CreatedAt
	rec.LastUsed = stored.LastUsed
	return stored.ID, nil
}

func (a *Adapter) GetToken(ctx context.Context, id string) (*store.TokenRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.tokens[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (a *Adapter) sortedTokens() []*store.TokenRecord {
	recs := make([]*store.TokenRecord, 0, len(a.tokens))
	for _, rec := range a.tokens {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs
}

func (a *Adapter) LatestActiveToken(ctx context.Context) (*store.TokenRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, rec := range a.sortedTokens() {
		if rec.Active {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *Adapter) ActiveTokens(ctx context.Context) ([]*store.TokenRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []*store.TokenRecord
	for _, rec := range a.sortedTokens() {
		if rec.Active {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (a *Adapter) LatestRefreshableToken(ctx context.Context) (*store.TokenRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, rec := range a.sortedTokens() {
		if rec.RefreshToken != "" {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *Adapter) TouchToken(ctx context.Context, id string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.tokens[id]
	if !ok {
		return errors.NotFound("token " + id)
	}
	rec.LastUsed = at.UTC()
	return nil
}

func (a *Adapter) DeactivateActiveTokens(ctx context.Context, at time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at = at.UTC()
	count := 0
	for _, rec := range a.tokens {
		if rec.Active {
			rec.Active = false
			deactivated := at
			rec.DeactivatedAt = &deactivated
			count++
		}
	}
	return count, nil
}

func (a *Adapter) InvalidateTokensByAccessToken(ctx context.Context, accessToken, reason, providerError string, at time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at = at.UTC()
	count := 0
	for _, rec := range a.tokens {
		if rec.Active && rec.AccessToken == accessToken {
			rec.Active = false
			invalidated := at
			rec.InvalidatedAt = &invalidated
			rec.InvalidationReason = reason
			rec.InvalidationError = providerError
			count++
		}
	}
	return count, nil
}

func (a *Adapter) DeleteAllTokens(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	count := len(a.tokens)
	a.tokens = make(map[string]*store.TokenRecord)
	return count, nil
}

func (a *Adapter) AppendNotification(ctx context.Context, e *store.NotificationEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := *e
	cp.Date = cp.Date.UTC()
	a.notifications = append(a.notifications, &cp)
	return nil
}

func (a *Adapter) LastNotification(ctx context.Context) (*store.NotificationEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.notifications) == 0 {
		return nil, nil
	}
	cp := *a.notifications[len(a.notifications)-1]
	return &cp, nil
}

func (a *Adapter) LastNotificationOfType(ctx context.Context, notificationType string) (*store.NotificationEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for i := len(a.notifications) - 1; i >= 0; i-- {
		if a.notifications[i].Type == notificationType {
			cp := *a.notifications[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (a *Adapter) AppendRenewal(ctx context.Context, e *store.RenewalEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := *e
	cp.Date = cp.Date.UTC()
	cp.NotificationDate = cp.NotificationDate.UTC()
	a.renewals = append(a.renewals, &cp)
	return nil
}

func (a *Adapter) LastRenewal(ctx context.Context) (*store.RenewalEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.renewals) == 0 {
		return nil, nil
	}
	cp := *a.renewals[len(a.renewals)-1]
	return &cp, nil
}

func (a *Adapter) AppendCycleEvent(ctx context.Context, e *store.CycleEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := *e
	cp.Date = cp.Date.UTC()
	a.cycleEvents = append(a.cycleEvents, &cp)
	return nil
}

func (a *Adapter) LastCycleEvent(ctx context.Context) (*store.CycleEvent, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.cycleEvents) == 0 {
		return nil, nil
	}
	cp := *a.cycleEvents[len(a.cycleEvents)-1]
	return &cp, nil
}

func (a *Adapter) CreateUser(ctx context.Context, username, password string) (*store.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[username]; exists {
		return nil, errors.Validation("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Internal("failed to hash password", err)
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		IsDefault:    len(a.users) == 0,
		CreatedAt:    a.clock(),
	}
	a.users[username] = user

	cp := *user
	return &cp, nil
}

func (a *Adapter) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	user, ok := a.users[username]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (a *Adapter) ValidateUser(ctx context.Context, username, password string) (*store.User, error) {
	a.mu.RLock()
	user, ok := a.users[username]
	a.mu.RUnlock()

	if !ok {
		return nil, errors.Auth("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Auth("invalid credentials")
	}

	cp := *user
	return &cp, nil
}

func (a *Adapter) UserCount(ctx context.Context) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.users), nil
}
