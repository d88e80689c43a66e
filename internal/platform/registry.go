package platform

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no active platform matches a lookup.
var ErrNotFound = errors.New("platform: not found")

// Registry resolves an inbound issuer to a registered platform. Only active
// platforms are resolvable.
type Registry interface {
	ResolveByIssuer(ctx context.Context, issuer string) (Platform, error)
}

// SQLRegistry persists platforms in SQL and implements Registry.
type SQLRegistry struct {
	db *sql.DB

	// AllowSingleTenantFallback resolves an unknown issuer to the sole
	// active platform. It masks misconfiguration in multi-tenant setups,
	// so it must be switched on explicitly and every use is logged.
	AllowSingleTenantFallback bool

	Logger zerolog.Logger

	now func() time.Time
}

func NewSQLRegistry(db *sql.DB, logger zerolog.Logger) *SQLRegistry {
	return &SQLRegistry{db: db, Logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLRegistry) ResolveByIssuer(ctx context.Context, issuer string) (Platform, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return Platform{}, ErrNotFound
	}
	p, err := r.queryOne(ctx, `SELECT `+platformCols+` FROM platforms WHERE issuer=$1 AND active=TRUE`, issuer)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Platform{}, err
	}
	if !r.AllowSingleTenantFallback {
		return Platform{}, ErrNotFound
	}
	return r.soleActive(ctx, issuer)
}

// soleActive returns the only active platform, or ErrNotFound when zero or
// more than one are registered. Ambiguity must never be guessed away.
func (r *SQLRegistry) soleActive(ctx context.Context, requestedIssuer string) (Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+platformCols+` FROM platforms WHERE active=TRUE LIMIT 2`)
	if err != nil {
		return Platform{}, fmt.Errorf("platform: query: %w", err)
	}
	defer rows.Close()

	var found []Platform
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return Platform{}, err
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return Platform{}, err
	}
	if len(found) != 1 {
		return Platform{}, ErrNotFound
	}
	r.Logger.Warn().
		Str("requested_issuer", requestedIssuer).
		Str("resolved_issuer", found[0].Issuer).
		Msg("issuer not registered; single-tenant fallback used")
	return found[0], nil
}

/* ------------------------------ Administration ----------------------------- */

func (r *SQLRegistry) Create(ctx context.Context, p Platform) (Platform, error) {
	if strings.TrimSpace(p.Issuer) == "" || strings.TrimSpace(p.ClientID) == "" {
		return Platform{}, errors.New("platform: issuer and client_id required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now()
	p.Active = true
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `INSERT INTO platforms
		(id, issuer, client_id, name, auth_login_url, auth_token_url, key_set_url, deployment_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,TRUE,$9,$10)`,
		p.ID, p.Issuer, p.ClientID, p.Name, p.AuthLoginURL, p.AuthTokenURL, p.KeySetURL, p.DeploymentID,
		now.Unix(), now.Unix())
	if err != nil {
		return Platform{}, fmt.Errorf("platform: insert: %w", err)
	}
	return p, nil
}

func (r *SQLRegistry) Get(ctx context.Context, id string) (Platform, error) {
	return r.queryOne(ctx, `SELECT `+platformCols+` FROM platforms WHERE id=$1`, id)
}

func (r *SQLRegistry) ListActive(ctx context.Context) ([]Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+platformCols+` FROM platforms WHERE active=TRUE ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("platform: query: %w", err)
	}
	defer rows.Close()

	out := []Platform{}
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Deactivate soft-deletes a platform; its launches stop resolving.
func (r *SQLRegistry) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE platforms SET active=FALSE, updated_at=$1 WHERE id=$2`,
		r.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("platform: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

/* --------------------------------- Scanning -------------------------------- */

const platformCols = `id, issuer, client_id, name, auth_login_url, auth_token_url, key_set_url, deployment_id, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRegistry) queryOne(ctx context.Context, query string, args ...any) (Platform, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	p, err := scanPlatform(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Platform{}, ErrNotFound
	}
	return p, err
}

func scanPlatform(row rowScanner) (Platform, error) {
	var p Platform
	var created, updated int64
	err := row.Scan(&p.ID, &p.Issuer, &p.ClientID, &p.Name, &p.AuthLoginURL, &p.AuthTokenURL,
		&p.KeySetURL, &p.DeploymentID, &p.Active, &created, &updated)
	if err != nil {
		return Platform{}, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return p, nil
}
