package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mkosyakov/notesync/internal/common"
	"github.com/mkosyakov/notesync/internal/dbx"
	"github.com/mkosyakov/notesync/internal/payload"
	"github.com/mkosyakov/notesync/internal/storage/migrations"
)

// SQLiteStore implements Store over a local sqlite database. Payloads are
// stored as serialized raw projections keyed by uuid.
type SQLiteStore struct {
	db *sql.DB
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// OpenSQLite opens (creating if needed) the database at dsn and migrates it.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetAllRawPayloads returns every stored payload projection.
func (s *SQLiteStore) GetAllRawPayloads(ctx context.Context) ([]payload.Raw, error) {
	rows, err := s.db.QueryContext(ctx, `select data from items`)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var result []payload.Raw
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var raw payload.Raw
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("corrupt stored payload: %w", err)
		}
		result = append(result, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SavePayloads upserts payload projections by uuid in one transaction.
func (s *SQLiteStore) SavePayloads(ctx context.Context, raws []payload.Raw) error {
	if len(raws) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `insert into items (uuid, content_type, data) values (?, ?, ?)
			ON CONFLICT(uuid) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`
		for _, raw := range raws {
			data, err := json.Marshal(raw)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, raw.UUID, raw.ContentType, string(data)); err != nil {
				return fmt.Errorf("failed to upsert payload: %w", err)
			}
		}
		return nil
	})
}

// DeletePayloads evicts discarded payloads.
func (s *SQLiteStore) DeletePayloads(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range uuids {
			if _, err := tx.ExecContext(ctx, `delete from items where uuid = ?`, id); err != nil {
				return fmt.Errorf("failed to delete payload: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `select value from kv where key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into kv (key, value) values (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveValue(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `delete from kv where key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to remove value: %w", err)
	}
	return nil
}
