// Package postgres implements the repository contract on PostgreSQL via pgx.
//
// The (user_id, client_event_id) UNIQUE constraint is the idempotency guard;
// a violation surfaces as repository.ErrConflict.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/timebank/internal/adapters/repository"
	"github.com/okian/timebank/internal/domain/model"
	"github.com/okian/timebank/pkg/metrics"
)

//go:embed schema.sql
var schema string

const (
	uniqueViolation = "23505"
	// clientEventKey is the (user_id, client_event_id) constraint in schema.sql.
	clientEventKey = "activities_client_event_key"
)

// Store provides Postgres-backed persistence.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool to url and verifies it with a ping.
func Open(ctx context.Context, url string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns) //nolint:gosec // bounded by config
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const boothColumns = `id, COALESCE(code, ''), COALESCE(name, ''), kind, amount, is_active`

func scanBooth(row pgx.Row) (model.Booth, error) {
	var b model.Booth
	var kind string
	if err := row.Scan(&b.ID, &b.Code, &b.Name, &kind, &b.Amount, &b.IsActive); err != nil {
		return model.Booth{}, err
	}
	b.Kind = model.ParseKind(kind)
	return b, nil
}

// BoothByID implements repository.Booths.
func (s *Store) BoothByID(ctx context.Context, id string) (model.Booth, error) {
	defer observe("booth_by_id", time.Now())
	b, err := scanBooth(s.pool.QueryRow(ctx, `SELECT `+boothColumns+` FROM booths WHERE id = $1`, id))
	return b, lookupErr("booth_by_id", fmt.Sprintf("booth %q", id), err)
}

// BoothByCode implements repository.Booths.
func (s *Store) BoothByCode(ctx context.Context, code string) (model.Booth, error) {
	defer observe("booth_by_code", time.Now())
	b, err := scanBooth(s.pool.QueryRow(ctx, `SELECT `+boothColumns+` FROM booths WHERE code = $1`, code))
	return b, lookupErr("booth_by_code", fmt.Sprintf("booth code %q", code), err)
}

// Booths implements repository.Booths.
func (s *Store) Booths(ctx context.Context) ([]model.Booth, error) {
	defer observe("booths", time.Now())
	rows, err := s.pool.Query(ctx, `SELECT `+boothColumns+` FROM booths ORDER BY id`)
	if err != nil {
		return nil, queryErr("booths", err)
	}
	defer rows.Close()
	var out []model.Booth
	for rows.Next() {
		b, err := scanBooth(rows)
		if err != nil {
			return nil, queryErr("booths", err)
		}
		out = append(out, b)
	}
	return out, queryErr("booths", rows.Err())
}

// CategoryWeights implements repository.Booths. A NULL weight reads as 1.
func (s *Store) CategoryWeights(ctx context.Context, boothIDs []string) ([]model.CategoryWeight, error) {
	defer observe("category_weights", time.Now())
	const base = `SELECT booth_id, domain_code, COALESCE(weight, 1) FROM booth_targets`
	var (
		rows pgx.Rows
		err  error
	)
	if len(boothIDs) == 0 {
		rows, err = s.pool.Query(ctx, base+` ORDER BY booth_id, domain_code`)
	} else {
		rows, err = s.pool.Query(ctx, base+` WHERE booth_id = ANY($1) ORDER BY booth_id, domain_code`, boothIDs)
	}
	if err != nil {
		return nil, queryErr("category_weights", err)
	}
	defer rows.Close()
	var out []model.CategoryWeight
	for rows.Next() {
		var w model.CategoryWeight
		if err := rows.Scan(&w.BoothID, &w.CategoryCode, &w.Weight); err != nil {
			return nil, queryErr("category_weights", err)
		}
		out = append(out, w)
	}
	return out, queryErr("category_weights", rows.Err())
}

// HasActivitySince implements repository.Ledger.
func (s *Store) HasActivitySince(ctx context.Context, userID, boothID string, since time.Time) (bool, error) {
	defer observe("has_activity_since", time.Now())
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE user_id = $1 AND booth_id = $2 AND created_at >= $3)`,
		userID, boothID, since).Scan(&exists)
	return exists, queryErr("has_activity_since", err)
}

const activityColumns = `id, user_id, booth_id, kind, amount, created_at, COALESCE(client_event_id, '')`

func scanActivity(row pgx.Row) (model.Activity, error) {
	var a model.Activity
	var kind string
	if err := row.Scan(&a.ID, &a.UserID, &a.BoothID, &kind, &a.Amount, &a.CreatedAt, &a.ClientEventID); err != nil {
		return model.Activity{}, err
	}
	a.Kind = model.ParseKind(kind)
	return a, nil
}

// FindByClientEventID implements repository.Ledger.
func (s *Store) FindByClientEventID(ctx context.Context, userID, clientEventID string) (*model.Activity, error) {
	defer observe("find_by_client_event_id", time.Now())
	if clientEventID == "" {
		return nil, nil
	}
	a, err := scanActivity(s.pool.QueryRow(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE user_id = $1 AND client_event_id = $2`,
		userID, clientEventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queryErr("find_by_client_event_id", err)
	}
	return &a, nil
}

// InsertActivity implements repository.Ledger.
func (s *Store) InsertActivity(ctx context.Context, a model.Activity) error {
	defer observe("insert_activity", time.Now())
	if a.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", repository.ErrInvalidActivity, a.Amount)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (id, user_id, booth_id, kind, amount, created_at, client_event_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.BoothID, string(a.Kind), a.Amount, a.CreatedAt, nullIfEmpty(a.ClientEventID))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == clientEventKey {
		return fmt.Errorf("client event %q: %w", a.ClientEventID, repository.ErrConflict)
	}
	return queryErr("insert_activity", err)
}

// ActivitiesSince implements repository.Ledger.
func (s *Store) ActivitiesSince(ctx context.Context, since time.Time) ([]model.Activity, error) {
	defer observe("activities_since", time.Now())
	return s.queryActivities(ctx, "activities_since",
		`SELECT `+activityColumns+` FROM activities WHERE created_at >= $1 ORDER BY created_at, id`, since)
}

// ActivitiesByUser implements repository.Ledger.
func (s *Store) ActivitiesByUser(ctx context.Context, userID string) ([]model.Activity, error) {
	defer observe("activities_by_user", time.Now())
	return s.queryActivities(ctx, "activities_by_user",
		`SELECT `+activityColumns+` FROM activities WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
}

func (s *Store) queryActivities(ctx context.Context, op, query string, args ...any) ([]model.Activity, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, queryErr(op, err)
	}
	defer rows.Close()
	var out []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, queryErr(op, err)
		}
		out = append(out, a)
	}
	return out, queryErr(op, rows.Err())
}

// DisplayNames implements repository.Directory.
func (s *Store) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	defer observe("display_names", time.Now())
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(display_name, ''), COALESCE(full_name, ''), COALESCE(name, ''), COALESCE(phone, '')
         FROM profiles WHERE id = ANY($1)`, userIDs)
	if err != nil {
		return nil, queryErr("display_names", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.FullName, &p.Name, &p.Phone); err != nil {
			return nil, queryErr("display_names", err)
		}
		out[p.ID] = p.Label()
	}
	return out, queryErr("display_names", rows.Err())
}

// UpsertBooth provisions a booth and replaces its category rows. Used by seeding and tests.
func (s *Store) UpsertBooth(ctx context.Context, b model.Booth, weights []model.CategoryWeight) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx,
		`INSERT INTO booths (id, code, name, kind, amount, is_active) VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, name = EXCLUDED.name, kind = EXCLUDED.kind,
             amount = EXCLUDED.amount, is_active = EXCLUDED.is_active`,
		b.ID, nullIfEmpty(b.Code), nullIfEmpty(b.Name), string(b.Kind), b.Amount, b.IsActive); err != nil {
		return fmt.Errorf("upsert booth %s: %w", b.ID, err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM booth_targets WHERE booth_id = $1`, b.ID); err != nil {
		return fmt.Errorf("clear targets %s: %w", b.ID, err)
	}
	for _, w := range weights {
		if _, err = tx.Exec(ctx,
			`INSERT INTO booth_targets (booth_id, domain_code, weight) VALUES ($1, $2, $3)`,
			b.ID, w.CategoryCode, w.Weight); err != nil {
			return fmt.Errorf("insert target %s/%s: %w", b.ID, w.CategoryCode, err)
		}
	}
	return tx.Commit(ctx)
}

// UpsertProfile provisions an identity record.
func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, display_name, full_name, name, phone) VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, full_name = EXCLUDED.full_name,
             name = EXCLUDED.name, phone = EXCLUDED.phone`,
		p.ID, nullIfEmpty(p.DisplayName), nullIfEmpty(p.FullName), nullIfEmpty(p.Name), nullIfEmpty(p.Phone))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func lookupErr(op, what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
	}
	return queryErr(op, err)
}

func queryErr(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordRepositoryError(op)
	return fmt.Errorf("postgres %s: %w", op, err)
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, metrics.SinceMs(start))
}

// ApplySeed provisions booths, category rows and profiles from a seed document.
func (s *Store) ApplySeed(ctx context.Context, seed *repository.Seed) error {
	booths, weights, profiles := seed.Models()
	byBooth := make(map[string][]model.CategoryWeight, len(booths))
	for _, w := range weights {
		byBooth[w.BoothID] = append(byBooth[w.BoothID], w)
	}
	for _, b := range booths {
		if err := s.UpsertBooth(ctx, b, byBooth[b.ID]); err != nil {
			return err
		}
	}
	for _, p := range profiles {
		if err := s.UpsertProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
