package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a local account bound to a platform identity. The (PlatformID,
// Subject) pair is the stable external key; everything else may change
// between launches.
type User struct {
	ID           string     `json:"id"`
	PlatformID   string     `json:"platform_id"`
	Subject      string     `json:"subject"`
	Email        string     `json:"email,omitempty"`
	Name         string     `json:"name,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLaunchAt *time.Time `json:"last_launch_at,omitempty"`
}

// Store provisions users from verified launch claims.
type Store interface {
	UpsertByPlatformSubject(ctx context.Context, platformID, subject, email, name string) (User, error)
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertByPlatformSubject creates the user on first sight and refreshes
// contact fields plus the last-seen timestamp on repeat launches.
func (s *SQLStore) UpsertByPlatformSubject(ctx context.Context, platformID, subject, email, name string) (User, error) {
	if strings.TrimSpace(platformID) == "" || strings.TrimSpace(subject) == "" {
		return User{}, errors.New("user: platform id and subject required")
	}
	now := s.now()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, platform_id, subject, email, name, created_at, last_launch_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (platform_id, subject) DO UPDATE SET
		  email=EXCLUDED.email, name=EXCLUDED.name, last_launch_at=EXCLUDED.last_launch_at`,
		id, platformID, subject, email, name, now.Unix(), now.Unix())
	if err != nil {
		return User{}, fmt.Errorf("user: upsert: %w", err)
	}
	return s.getByPlatformSubject(ctx, platformID, subject)
}

func (s *SQLStore) getByPlatformSubject(ctx context.Context, platformID, subject string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, platform_id, subject, email, name, created_at, last_launch_at
		FROM users WHERE platform_id=$1 AND subject=$2`, platformID, subject)
	var u User
	var created int64
	var lastLaunch sql.NullInt64
	if err := row.Scan(&u.ID, &u.PlatformID, &u.Subject, &u.Email, &u.Name, &created, &lastLaunch); err != nil {
		return User{}, fmt.Errorf("user: scan: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	if lastLaunch.Valid {
		t := time.Unix(lastLaunch.Int64, 0).UTC()
		u.LastLaunchAt = &t
	}
	return u, nil
}
