package drawings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/zjrosen/chartbus/internal/log"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS drawings (
	tag TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLiteStore keeps drawings in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create drawings directory: %w", err)
		}
	}

	log.Debug(log.CatStore, "opening drawings database", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		log.ErrorErr(log.CatStore, "failed to open drawings database", err, "path", path)
		return nil, err
	}
	// One writer; serializing through a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping drawings database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create drawings schema: %w", err)
	}
	log.Info(log.CatStore, "connected to drawings database", "path", path)
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, tag string, drawings json.RawMessage) error {
	if err := validate(tag, drawings); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drawings (tag, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tag) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		tag, string(drawings))
	if err != nil {
		return fmt.Errorf("save drawings %q: %w", tag, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, tag string) (json.RawMessage, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM drawings WHERE tag = ?`, tag).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load drawings %q: %w", tag, err)
	}
	return json.RawMessage(body), true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, tag string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drawings WHERE tag = ?`, tag); err != nil {
		return fmt.Errorf("delete drawings %q: %w", tag, err)
	}
	return nil
}

func (s *SQLiteStore) Tags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM drawings ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("list drawing tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
