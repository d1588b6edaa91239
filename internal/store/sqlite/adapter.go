// Package sqlite provides the default single-node credential store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

// Timestamps are persisted as RFC3339Nano UTC strings so the normalization
// to a single timezone-aware representation happens here, at the adapter
// boundary, and nowhere else.
const timeLayout = time.RFC3339Nano

type Adapter struct {
	db     *sql.DB
	config *Config
}

var _ store.Store = (*Adapter)(nil)

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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
			created_at TEXT NOT NULL,
			last_used TEXT NOT NULL,
			active BOOLEAN DEFAULT 0,
			deactivated_at TEXT,
			invalidated_at TEXT,
			invalidation_reason TEXT DEFAULT '',
			invalidation_error TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			type TEXT NOT NULL,
			email_sent BOOLEAN DEFAULT 0,
			sms_sent BOOLEAN DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS renewals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			token_id TEXT NOT NULL,
			notification_date TEXT NOT NULL,
			success BOOLEAN DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_default BOOLEAN DEFAULT 0,
			created_at TEXT NOT NULL
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry plain RFC3339.
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

const tokenColumns = `id, access_token, refresh_token, token_type, scope, expires_in,
	created_at, last_used, active, deactivated_at, invalidated_at,
	invalidation_reason, invalidation_error`

func scanToken(row interface{ Scan(...interface{}) error }) (*store.TokenRecord, error) {
	var rec store.TokenRecord
	var createdAt, lastUsed string
	var deactivatedAt, invalidatedAt sql.NullString

	err := row.Scan(&rec.ID, &rec.AccessToken, &rec.RefreshToken, &rec.TokenType,
		&rec.Scope, &rec.ExpiresIn, &createdAt, &lastUsed, &rec.Active,
		&deactivatedAt, &invalidatedAt, &rec.InvalidationReason, &rec.InvalidationError)
	if err != nil {
		return nil, err
	}

	rec.CreatedAt = parseTime(createdAt)
	rec.LastUsed = parseTime(lastUsed)
	rec.DeactivatedAt = parseNullableTime(deactivatedAt)
	rec.InvalidatedAt = parseNullableTime(invalidatedAt)
	return &rec, nil
}

func (a *Adapter) InsertToken(ctx context.Context, rec *store.TokenRecord) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO tokens (id, access_token, refresh_token, token_type, scope,
			expires_in, created_at, last_used, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.AccessToken, rec.RefreshToken, rec.TokenType, rec.Scope,
		rec.ExpiresIn, formatTime(now), formatTime(now), rec.Active)
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
		`SELECT `+tokenColumns+` FROM tokens WHERE id = ?`, id)
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
		`SELECT `+tokenColumns+` FROM tokens WHERE active = 1
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
		`SELECT `+tokenColumns+` FROM tokens WHERE active = 1
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
		`UPDATE tokens SET last_used = ? WHERE id = ?`, formatTime(at), id)
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
		`UPDATE tokens SET active = 0, deactivated_at = ? WHERE active = 1`,
		formatTime(at))
	if err != nil {
		return 0, errors.StoreUnavailable("failed to deactivate tokens", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (a *Adapter) InvalidateTokensByAccessToken(ctx context.Context, accessToken, reason, providerError string, at time.Time) (int, error) {
	result, err := a.db.ExecContext(ctx,
		`UPDATE tokens SET active = 0, invalidated_at = ?,
			invalidation_reason = ?, invalidation_error = ?
		WHERE active = 1 AND access_token = ?`,
		formatTime(at), reason, providerError, accessToken)
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
		`INSERT INTO notifications (date, type, email_sent, sms_sent) VALUES (?, ?, ?, ?)`,
		formatTime(e.Date), e.Type, e.EmailSent, e.SMSSent)
	if err != nil {
		return errors.StoreUnavailable("failed to append notification", err)
	}
	return nil
}

func scanNotification(row interface{ Scan(...interface{}) error }) (*store.NotificationEntry, error) {
	var e store.NotificationEntry
	var date string
	if err := row.Scan(&date, &e.Type, &e.EmailSent, &e.SMSSent); err != nil {
		return nil, err
	}
	e.Date = parseTime(date)
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
		WHERE type = ? ORDER BY id DESC LIMIT 1`, notificationType)
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
		`INSERT INTO renewals (date, token_id, notification_date, success) VALUES (?, ?, ?, ?)`,
		formatTime(e.Date), e.TokenID, formatTime(e.NotificationDate), e.Success)
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
	var date, notificationDate string
	err := row.Scan(&date, &e.TokenID, &notificationDate, &e.Success)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query renewals", err)
	}
	e.Date = parseTime(date)
	e.NotificationDate = parseTime(notificationDate)
	return &e, nil
}

func (a *Adapter) AppendCycleEvent(ctx context.Context, e *store.CycleEvent) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO cycle_events (date, action, reason) VALUES (?, ?, ?)`,
		formatTime(e.Date), e.Action, e.Reason)
	if err != nil {
		return errors.StoreUnavailable("failed to append cycle event", err)
	}
	return nil
}

func (a *Adapter) LastCycleEvent(ctx context.Context) (*store.CycleEvent, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT date, action, reason FROM cycle_events ORDER BY id DESC LIMIT 1`)

	var e store.CycleEvent
	var date string
	err := row.Scan(&date, &e.Action, &e.Reason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query cycle events", err)
	}
	e.Date = parseTime(date)
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
		VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.IsDefault, formatTime(user.CreatedAt))
	if err != nil {
		return nil, errors.StoreUnavailable("failed to create user", err)
	}
	return user, nil
}

func (a *Adapter) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, is_default, created_at
		FROM users WHERE username = ?`, username)

	var user store.User
	var createdAt string
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsDefault, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailable("failed to query user", err)
	}
	user.CreatedAt = parseTime(createdAt)
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
