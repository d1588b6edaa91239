// Package postgres backs the credential store with PostgreSQL for
// deployments that already run one.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/crypto/bcrypt"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

var _ store.Store = (*Adapter)(nil)

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, config: config}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT DEFAULT '',
			token_type TEXT DEFAULT '',
			scope TEXT DEFAULT '',
			expires_in INTEGER DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			last_used TIMESTAMPTZ NOT NULL,
			active BOOLEAN DEFAULT FALSE,
			deactivated_at TIMESTAMPTZ,
			invalidated_at TIMESTAMPTZ,
			invalidation_reason TEXT DEFAULT '',
			invalidation_error TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			date TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			email_sent BOOLEAN DEFAULT FALSE,
			sms_sent BOOLEAN DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS renewals (
			id BIGSERIAL PRIMARY KEY,
			date TIMESTAMPTZ NOT NULL,
			token_id TEXT NOT NULL,
			notification_date TIMESTAMPTZ NOT NULL,
			success BOOLEAN DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_events (
			id BIGSERIAL PRIMARY KEY,
			date TIMESTAMPTZ NOT NULL,
			action TEXT NOT NULL,
			reason TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_default BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_active ON tokens(active)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_created_at ON tokens(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(type)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

const tokenColumns = `id, access_token, refresh_token, token_type, scope, expires_in,
	created_at, last_used, active, deactivated_at, invalidated_at,
	invalidation_reason, invalidation_error`

func scanToken(row interface{ Scan(...interface{}) error }) (*store.TokenRecord, error) {
	var rec store.TokenRecord
	var deactivatedAt, invalidatedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.AccessToken, &rec.RefreshToken, &rec.TokenType,
		&rec.Scope, &rec.ExpiresIn, &rec.CreatedAt, &rec.LastUsed, &rec.Active,
		&deactivatedAt, &invalidatedAt, &rec.InvalidationReason, &rec.InvalidationError)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastUsed = rec.LastUsed.UTC()
	if deactivatedAt.Valid {
		t := deactivatedAt.Time.UTC()
		rec.DeactivatedAt = &t
	}
	if invalidatedAt.Valid {
		t := invalidatedAt.Time.UTC()
		rec.InvalidatedAt = &t
	}
	return &rec, nil
}

func (a *Adapter) InsertToken(ctx context.Context, rec *store.TokenRecord) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO tokens (id, access_token, refresh_token, token_type, scope,
			expires_in, created_at, last_used, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.AccessToken, rec.RefreshToken, rec.TokenType, rec.Scope,
		rec.ExpiresIn, now, now, rec.Active)
	if err != nil {
		return "", errors.StoreUnavailable("failed to insert token", err)
	}

	rec.ID = id
	rec.CreatedAt = now
	rec.LastUsed = now
	return id, nil
}

func (a *Adapter) GetToken(ctx context.Context, id string) (*store.TokenRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	rec, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query token", err)
	}
	return rec, nil
}

func (a *Adapter) LatestActiveToken(ctx context.Context) (*store.TokenRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE active
		ORDER BY created_at DESC LIMIT 1`)
	rec, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query active token", err)
	}
	return rec, nil
}

func (a *Adapter) ActiveTokens(ctx context.Context) ([]*store.TokenRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE active
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query active tokens", err)
	}
	defer rows.Close()

	var recs []*store.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, errors.StoreUnavailable("failed to scan token", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (a *Adapter) LatestRefreshableToken(ctx context.Context) (*store.TokenRecord, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE refresh_token != ''
		ORDER BY created_at DESC LIMIT 1`)
	rec, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query refreshable token", err)
	}
	return rec, nil
}

func (a *Adapter) TouchToken(ctx context.Context, id string, at time.Time) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE tokens SET last_used = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return errors.StoreUnavailable("failed to touch token", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("token " + id)
	}
	return nil
}

func (a *Adapter) DeactivateActiveTokens(ctx context.Context, at time.Time) (int, error) {
	result, err := a.db.ExecContext(ctx,
		`UPDATE tokens SET active = FALSE, deactivated_at = $1 WHERE active`, at.UTC())
	if err != nil {
		return 0, errors.StoreUnavailable("failed to deactivate tokens", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (a *Adapter) InvalidateTokensByAccessToken(ctx context.Context, accessToken, reason, providerError string, at time.Time) (int, error) {
	result, err := a.db.ExecContext(ctx,
		`UPDATE tokens SET active = FALSE, invalidated_at = $1,
			invalidation_reason = $2, invalidation_error = $3
		WHERE active AND access_token = $4`,
		at.UTC(), reason, providerError, accessToken)
	if err != nil {
		return 0, errors.StoreUnavailable("failed to invalidate tokens", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (a *Adapter) DeleteAllTokens(ctx context.Context) (int, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM tokens`)
	if err != nil {
		return 0, errors.StoreUnavailable("failed to delete tokens", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (a *Adapter) AppendNotification(ctx context.Context, e *store.NotificationEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO notifications (date, type, email_sent, sms_sent) VALUES ($1, $2, $3, $4)`,
		e.Date.UTC(), e.Type, e.EmailSent, e.SMSSent)
	if err != nil {
		return errors.StoreUnavailable("failed to append notification", err)
	}
	return nil
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*store.NotificationEntry, error) {
	var e store.NotificationEntry
	if err := row.Scan(&e.Date, &e.Type, &e.EmailSent, &e.SMSSent); err != nil {
		return nil, err
	}
	e.Date = e.Date.UTC()
	return &e, nil
}

func (a *Adapter) LastNotification(ctx context.Context) (*store.NotificationEntry, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT date, type, email_sent, sms_sent FROM notifications
		ORDER BY id DESC LIMIT 1`)
	e, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query notifications", err)
	}
	return e, nil
}

func (a *Adapter) LastNotificationOfType(ctx context.Context, notificationType string) (*store.NotificationEntry, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT date, type, email_sent, sms_sent FROM notifications
		WHERE type = $1 ORDER BY id DESC LIMIT 1`, notificationType)
	e, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query notifications", err)
	}
	return e, nil
}

func (a *Adapter) AppendRenewal(ctx context.Context, e *store.RenewalEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO renewals (date, token_id, notification_date, success) VALUES ($1, $2, $3, $4)`,
		e.Date.UTC(), e.TokenID, e.NotificationDate.UTC(), e.Success)
	if err != nil {
		return errors.StoreUnavailable("failed to append renewal", err)
	}
	return nil
}

func (a *Adapter) LastRenewal(ctx context.Context) (*store.RenewalEntry, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT date, token_id, notification_date, success FROM renewals
		ORDER BY id DESC LIMIT 1`)

	var e store.RenewalEntry
	err := row.Scan(&e.Date, &e.TokenID, &e.NotificationDate, &e.Success)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query renewals", err)
	}
	e.Date = e.Date.UTC()
	e.NotificationDate = e.NotificationDate.UTC()
	return &e, nil
}

func (a *Adapter) AppendCycleEvent(ctx context.Context, e *store.CycleEvent) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO cycle_events (date, action, reason) VALUES ($1, $2, $3)`,
		e.Date.UTC(), e.Action, e.Reason)
	if err != nil {
		return errors.StoreUnavailable("failed to append cycle event", err)
	}
	return nil
}

func (a *Adapter) LastCycleEvent(ctx context.Context) (*store.CycleEvent, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT date, action, reason FROM cycle_events ORDER BY id DESC LIMIT 1`)

	var e store.CycleEvent
	err := row.Scan(&e.Date, &e.Action, &e.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query cycle events", err)
	}
	e.Date = e.Date.UTC()
	return &e, nil
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

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.PasswordHash, user.IsDefault, user.CreatedAt)
	if err != nil {
		return nil, errors.StoreUnavailable("failed to create user", err)
	}
	return user, nil
}

func (a *Adapter) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, is_default, created_at
		FROM users WHERE username = $1`, username)

	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsDefault, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
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
	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, errors.StoreUnavailable("failed to count users", err)
	}
	return count, nil
}
