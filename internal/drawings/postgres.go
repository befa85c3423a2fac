package drawings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zjrosen/chartbus/internal/log"
)

// PostgresStore keeps drawings in a shared Postgres database, so several
// machines can see the same drawings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info(log.CatStore, "connected to drawings database", "driver", "postgres")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `create table if not exists chart_drawings (
		tag text primary key,
		body jsonb not null,
		updated_at timestamptz not null default now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure drawings schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, tag string, drawings json.RawMessage) error {
	if err := validate(tag, drawings); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `insert into chart_drawings (tag, body, updated_at)
		values ($1, $2::jsonb, now())
		on conflict (tag) do update set body = excluded.body, updated_at = now()`,
		tag, string(drawings))
	if err != nil {
		return fmt.Errorf("save drawings %q: %w", tag, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, tag string) (json.RawMessage, bool, error) {
	var body string
	err := s.pool.QueryRow(ctx, `select body::text from chart_drawings where tag = $1`, tag).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load drawings %q: %w", tag, err)
	}
	return json.RawMessage(body), true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tag string) error {
	if _, err := s.pool.Exec(ctx, `delete from chart_drawings where tag = $1`, tag); err != nil {
		return fmt.Errorf("delete drawings %q: %w", tag, err)
	}
	return nil
}

func (s *PostgresStore) Tags(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `select tag from chart_drawings order by tag`)
	if err != nil {
		return nil, fmt.Errorf("list drawing tags: %w", err)
	}
	tags, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list drawing tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
