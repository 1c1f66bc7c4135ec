package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no subscription is on file for a user.
var ErrNotFound = errors.New("no subscription for user")

// Record is one stored push subscription: the platform-issued endpoint
// plus the browser's encryption keys. One record per user identifier,
// overwritten on each registration.
type Record struct {
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry persists push subscription records in SQLite.
type Registry struct {
	db *sql.DB
}

// New runs migrations on the shared database handle.
func New(db *sql.DB) (*Registry, error) {
	query := `CREATE TABLE IF NOT EXISTS push_subscriptions (
		user_id TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("create push_subscriptions: %w", err)
	}
	return &Registry{db: db}, nil
}

// Save stores the subscription for the user, replacing any prior value
// unconditionally. Last write wins; callers are not authenticated.
func (r *Registry) Save(ctx context.Context, rec Record) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			endpoint = excluded.endpoint,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			updated_at = excluded.updated_at`,
		rec.UserID, rec.Endpoint, rec.P256dh, rec.Auth, now, now)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// Get returns the subscription on file for the user, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, userID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM push_subscriptions WHERE user_id = ?`, userID)

	var rec Record
	err := row.Scan(&rec.UserID, &rec.Endpoint, &rec.P256dh, &rec.Auth,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &rec, nil
}

// List returns all stored subscription records.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM push_subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UserID, &rec.Endpoint, &rec.P256dh, &rec.Auth,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes the subscription for the user. Used when the push
// service reports the endpoint permanently gone.
func (r *Registry) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
