// Package redis backs the credential store with Redis for multi-instance
// deployments where tokens must be shared across processes.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

// Key layout. Token documents live under tokenPrefix keyed by id; ordering
// comes from sorted sets scored by CreatedAt. Append-only logs are plain
// lists of JSON entries.
const (
	tokenPrefix       = "warden:token:"
	tokensByCreated   = "warden:tokens:by_created"
	tokensActive      = "warden:tokens:active"
	tokensRefreshable = "warden:tokens:refreshable"
	notificationsLog  = "warden:log:notifications"
	notificationsType = "warden:log:notifications:" // + type
	renewalsLog       = "warden:log:renewals"
	cycleLog          = "warden:log:cycle"
	userPrefix        = "warden:user:"
	usersIndex        = "warden:users"
)

type Adapter struct {
	client *goredis.Client
	config *Config
}

var _ store.Store = (*Adapter)(nil)

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Redis config: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Adapter{client: client, config: config}, nil
}

// NewAdapterWithClient wires an existing client, used by tests.
func NewAdapterWithClient(client *goredis.Client) *Adapter {
	return &Adapter{client: client, config: DefaultConfig()}
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) saveToken(ctx context.Context, rec *store.TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Internal("failed to serialize token", err)
	}
	if err := a.client.Set(ctx, tokenPrefix+rec.ID, data, 0).Err(); err != nil {
		return errors.StoreUnavailable("failed to save token", err)
	}
	return nil
}

func (a *Adapter) loadToken(ctx context.Context, id string) (*store.TokenRecord, error) {
	data, err := a.client.Get(ctx, tokenPrefix+id).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to load token", err)
	}
	var rec store.TokenRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, errors.Internal("failed to deserialize token", err)
	}
	return &rec, nil
}

func (a *Adapter) InsertToken(ctx context.Context, rec *store.TokenRecord) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	rec.ID = id
	rec.CreatedAt = now
	rec.LastUsed = now

	if err := a.saveToken(ctx, rec); err != nil {
		return "", err
	}

	score := float64(now.UnixNano())
	member := &goredis.Z{Score: score, Member: id}
	if err := a.client.ZAdd(ctx, tokensByCreated, member).Err(); err != nil {
		return "", errors.StoreUnavailable("failed to index token", err)
	}
	if rec.Active {
		if err := a.client.ZAdd(ctx, tokensActive, member).Err(); err != nil {
			return "", errors.StoreUnavailable("failed to index token", err)
		}
	}
	if rec.RefreshToken != "" {
		if err := a.client.ZAdd(ctx, tokensRefreshable, member).Err(); err != nil {
			return "", errors.StoreUnavailable("failed to index token", err)
		}
	}
	return id, nil
}

func (a *Adapter) GetToken(ctx context.Context, id string) (*store.TokenRecord, error) {
	return a.loadToken(ctx, id)
}

func (a *Adapter) latestFrom(ctx context.Context, index string) (*store.TokenRecord, error) {
	ids, err := a.client.ZRevRange(ctx, index, 0, 0).Result()
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query token index", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return a.loadToken(ctx, ids[0])
}

func (a *Adapter) LatestActiveToken(ctx context.Context) (*store.TokenRecord, error) {
	return a.latestFrom(ctx, tokensActive)
}

func (a *Adapter) ActiveTokens(ctx context.Context) ([]*store.TokenRecord, error) {
	ids, err := a.client.ZRevRange(ctx, tokensActive, 0, -1).Result()
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query token index", err)
	}

	var recs []*store.TokenRecord
	for _, id := range ids {
		rec, err := a.loadToken(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (a *Adapter) LatestRefreshableToken(ctx context.Context) (*store.TokenRecord, error) {
	return a.latestFrom(ctx, tokensRefreshable)
}

func (a *Adapter) TouchToken(ctx context.Context, id string, at time.Time) error {
	rec, err := a.loadToken(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.NotFound("token " + id)
	}
	rec.LastUsed = at.UTC()
	return a.saveToken(ctx, rec)
}

func (a *Adapter) DeactivateActiveTokens(ctx context.Context, at time.Time) (int, error) {
	recs, err := a.ActiveTokens(ctx)
	if err != nil {
		return 0, err
	}

	when := at.UTC()
	count := 0
	for _, rec := range recs {
		rec.Active = false
		rec.DeactivatedAt = &when
		if err := a.saveToken(ctx, rec); err != nil {
			return count, err
		}
		if err := a.client.ZRem(ctx, tokensActive, rec.ID).Err(); err != nil {
			return count, errors.StoreUnavailable("failed to update token index", err)
		}
		count++
	}
	return count, nil
}

func (a *Adapter) InvalidateTokensByAccessToken(ctx context.Context, accessToken, reason, providerError string, at time.Time) (int, error) {
	recs, err := a.ActiveTokens(ctx)
	if err != nil {
		return 0, err
	}

	when := at.UTC()
	count := 0
	for _, rec := range recs {
		if rec.AccessToken != accessToken {
			continue
		}
		rec.Active = false
		rec.InvalidatedAt = &when
		rec.InvalidationReason = reason
		rec.InvalidationError = providerError
		if err := a.saveToken(ctx, rec); err != nil {
			return count, err
		}
		if err := a.client.ZRem(ctx, tokensActive, rec.ID).Err(); err != nil {
			return count, errors.StoreUnavailable("failed to update token index", err)
		}
		count++
	}
	return count, nil
}

func (a *Adapter) DeleteAllTokens(ctx context.Context) (int, error) {
	ids, err := a.client.ZRange(ctx, tokensByCreated, 0, -1).Result()
	if err != nil {
		return 0, errors.StoreUnavailable("failed to query token index", err)
	}

	for _, id := range ids {
		if err := a.client.Del(ctx, tokenPrefix+id).Err(); err != nil {
			return 0, errors.StoreUnavailable("failed to delete token", err)
		}
	}
	if err := a.client.Del(ctx, tokensByCreated, tokensActive, tokensRefreshable).Err(); err != nil {
		return 0, errors.StoreUnavailable("failed to delete token indexes", err)
	}
	return len(ids), nil
}

func (a *Adapter) appendLog(ctx context.Context, key string, entry interface{}) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Internal("failed to serialize log entry", err)
	}
	if err := a.client.RPush(ctx, key, data).Err(); err != nil {
		return errors.StoreUnavailable("failed to append log entry", err)
	}
	return nil
}

func (a *Adapter) lastLog(ctx context.Context, key string, entry interface{}) (bool, error) {
	data, err := a.client.LIndex(ctx, key, -1).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.StoreUnavailable("failed to read log entry", err)
	}
	if err := json.Unmarshal([]byte(data), entry); err != nil {
		return false, errors.Internal("failed to deserialize log entry", err)
	}
	return true, nil
}

func (a *Adapter) AppendNotification(ctx context.Context, e *store.NotificationEntry) error {
	e.Date = e.Date.UTC()
	if err := a.appendLog(ctx, notificationsLog, e); err != nil {
		return err
	}
	return a.appendLog(ctx, notificationsType+e.Type, e)
}

func (a *Adapter) LastNotification(ctx context.Context) (*store.NotificationEntry, error) {
	var e store.NotificationEntry
	ok, err := a.lastLog(ctx, notificationsLog, &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (a *Adapter) LastNotificationOfType(ctx context.Context, notificationType string) (*store.NotificationEntry, error) {
	var e store.NotificationEntry
	ok, err := a.lastLog(ctx, notificationsType+notificationType, &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (a *Adapter) AppendRenewal(ctx context.Context, e *store.RenewalEntry) error {
	e.Date = e.Date.UTC()
	e.NotificationDate = e.NotificationDate.UTC()
	return a.appendLog(ctx, renewalsLog, e)
}

func (a *Adapter) LastRenewal(ctx context.Context) (*store.RenewalEntry, error) {
	var e store.RenewalEntry
	ok, err := a.lastLog(ctx, renewalsLog, &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (a *Adapter) AppendCycleEvent(ctx context.Context, e *store.CycleEvent) error {
	e.Date = e.Date.UTC()
	return a.appendLog(ctx, cycleLog, e)
}

func (a *Adapter) LastCycleEvent(ctx context.Context) (*store.CycleEvent, error) {
	var e store.CycleEvent
	ok, err := a.lastLog(ctx, cycleLog, &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

// storedUser carries the password hash, which store.User hides from JSON.
type storedUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *Adapter) CreateUser(ctx context.Context, username, password string) (*store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Internal("failed to hash password", err)
	}

	count, err := a.UserCount(ctx)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		IsDefault:    count == 0,
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(&storedUser{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		IsDefault:    user.IsDefault,
		CreatedAt:    user.CreatedAt,
	})
	if err != nil {
		return nil, errors.Internal("failed to serialize user", err)
	}
	if err := a.client.Set(ctx, userPrefix+username, data, 0).Err(); err != nil {
		return nil, errors.StoreUnavailable("failed to create user", err)
	}
	if err := a.client.SAdd(ctx, usersIndex, username).Err(); err != nil {
		return nil, errors.StoreUnavailable("failed to index user", err)
	}
	return user, nil
}

func (a *Adapter) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	data, err := a.client.Get(ctx, userPrefix+username).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query user", err)
	}
	var stored storedUser
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, errors.Internal("failed to deserialize user", err)
	}
	return &store.User{
		ID:           stored.ID,
		Username:     stored.Username,
		PasswordHash: stored.PasswordHash,
		IsDefault:    stored.IsDefault,
		CreatedAt:    stored.CreatedAt,
	}, nil
}

func (a *Adapter) ValidateUser(ctx context.Context, username, password string) (*store.User, error) {
	user, err := a.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.Auth("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Auth("invalid credentials")
	}
	return user, nil
}

func (a *Adapter) UserCount(ctx context.Context) (int, error) {
	count, err := a.client.SCard(ctx, usersIndex).Result()
	if err != nil {
		return 0, errors.StoreUnavailable("failed to count users", err)
	}
	return int(count), nil
}
