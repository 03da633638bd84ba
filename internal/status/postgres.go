package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool backing a PostgresStore.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
}

// PostgresStore persists records in a video_status table. The schema is
// created on first use so deployments do not need a separate migration step.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const videoStatusSchema = `
CREATE TABLE IF NOT EXISTS video_status (
    name       TEXT PRIMARY KEY,
    status     TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore connects to Postgres and ensures the video_status table
// exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, videoStatusSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure video_status table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, name string) (Record, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
        INSERT INTO video_status (name, status, message, created_at, updated_at)
        VALUES ($1, $2, '', $3, $3)
        ON CONFLICT (name) DO NOTHING
    `, name, StatusPending, now)
	if err != nil {
		return Record{}, fmt.Errorf("insert video status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrDuplicate
	}
	return Record{Name: name, Status: StatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusProcessing, "")
}

func (s *PostgresStore) MarkSuccessful(ctx context.Context, name string) (Record, error) {
	return s.transition(ctx, name, StatusSuccessful, "")
}

func (s *PostgresStore) MarkFailed(ctx context.Context, name, message string) (Record, error) {
	return s.transition(ctx, name, StatusFailed, message)
}

func (s *PostgresStore) Get(ctx context.Context, name string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
        SELECT name, status, message, created_at, updated_at
        FROM video_status
        WHERE name = $1
    `, name)
	var record Record
	if err := row.Scan(&record.Name, &record.Status, &record.Message, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("select video status: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// transition performs the status update and the monotonicity check in a
// single statement: the WHERE clause only matches rows whose current status
// may legally move to the target.
func (s *PostgresStore) transition(ctx context.Context, name string, to Status, message string) (Record, error) {
	allowed := transitionSources(to)
	row := s.pool.QueryRow(ctx, `
        UPDATE video_status
        SET status = $2, message = $3, updated_at = $4
        WHERE name = $1 AND status = ANY($5)
        RETURNING name, status, message, created_at, updated_at
    `, name, to, message, time.Now().UTC(), allowed)
	var record Record
	err := row.Scan(&record.Name, &record.Status, &record.Message, &record.CreatedAt, &record.UpdatedAt)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("update video status: %w", err)
	}
	current, getErr := s.Get(ctx, name)
	if getErr != nil {
		return Record{}, getErr
	}
	return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
}

func transitionSources(to Status) []string {
	sources := make([]string, 0, 2)
	for _, from := range []Status{StatusPending, StatusProcessing} {
		if CanTransition(from, to) {
			sources = append(sources, string(from))
		}
	}
	return sources
}
