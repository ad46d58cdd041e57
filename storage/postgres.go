package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/songzhibin97/genai-bot/types"
)

const (
	collectionTextConfigs  = "text_config"
	collectionImageConfigs = "image_config"
	collectionSettings     = "user_settings"
)

// Schema creates the document and access tables; it is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	user_id    TEXT   NOT NULL,
	body       JSONB  NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_user_idx ON documents (collection, user_id);
CREATE TABLE IF NOT EXISTS access_members (
	list   TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (list, member)
);
`

// PostgresStorage is a PostgreSQL implementation of the Storage interface.
// Every record is a JSONB document keyed by (collection, id).
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage connects to dsn, verifies the connection and applies Schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStorage{db: pool}, nil
}

func (s *PostgresStorage) putDocument(ctx context.Context, collection, id, userID string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, user_id, body) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (collection, id) DO UPDATE SET user_id = EXCLUDED.user_id, body = EXCLUDED.body`,
		collection, id, userID, body)
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", collection, id, err)
	}
	return nil
}

// uniqueViolation is the SQLSTATE of a primary key conflict.
const uniqueViolation = "23505"

func (s *PostgresStorage) insertDocument(ctx context.Context, collection, id, userID string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, user_id, body) VALUES ($1, $2, $3, $4)`,
		collection, id, userID, body)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s/%s", ErrExists, collection, id)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	return nil
}

func getDocument[T any](ctx context.Context, db *pgxpool.Pool, collection, id string) (T, error) {
	var zero T
	var body []byte
	err := db.QueryRow(ctx, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	} else if err != nil {
		return zero, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}
	return out, nil
}

func listDocuments[T any](ctx context.Context, db *pgxpool.Pool, collection, userID string) ([]T, error) {
	rows, err := db.Query(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND user_id = $2 ORDER BY id::numeric`,
		collection, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s for user %s: %w", collection, userID, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", collection, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func deleteDocument[T any](ctx context.Context, db *pgxpool.Pool, collection, id string) (T, error) {
	var zero T
	var body []byte
	err := db.QueryRow(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2 RETURNING body`, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	} else if err != nil {
		return zero, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, fmt.Errorf("failed to unmarshal %s/%s: %w", collection, id, err)
	}
	return out, nil
}

func docID(id uint64) string {
	return fmt.Sprintf("%d", id)
}

// CreateTextConfig inserts a text config document unless its ID is taken.
func (s *PostgresStorage) CreateTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return s.insertDocument(ctx, collectionTextConfigs, docID(cfg.ID), cfg.UserID, cfg)
}

// SaveTextConfig saves a text config document.
func (s *PostgresStorage) SaveTextConfig(ctx context.Context, cfg types.TextConfig) error {
	return s.putDocument(ctx, collectionTextConfigs, docID(cfg.ID), cfg.UserID, cfg)
}

// GetTextConfig retrieves a text config document.
func (s *PostgresStorage) GetTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return getDocument[types.TextConfig](ctx, s.db, collectionTextConfigs, docID(id))
}

// ListTextConfigs lists a user's text config documents.
func (s *PostgresStorage) ListTextConfigs(ctx context.Context, userID string) ([]types.TextConfig, error) {
	return listDocuments[types.TextConfig](ctx, s.db, collectionTextConfigs, userID)
}

// DeleteTextConfig removes a text config document.
func (s *PostgresStorage) DeleteTextConfig(ctx context.Context, id uint64) (types.TextConfig, error) {
	return deleteDocument[types.TextConfig](ctx, s.db, collectionTextConfigs, docID(id))
}

// CreateImageConfig inserts an image config document unless its ID is taken.
func (s *PostgresStorage) CreateImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return s.insertDocument(ctx, collectionImageConfigs, docID(cfg.ID), cfg.UserID, cfg)
}

// SaveImageConfig saves an image config document.
func (s *PostgresStorage) SaveImageConfig(ctx context.Context, cfg types.ImageConfig) error {
	return s.putDocument(ctx, collectionImageConfigs, docID(cfg.ID), cfg.UserID, cfg)
}

// GetImageConfig retrieves an image config document.
func (s *PostgresStorage) GetImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return getDocument[types.ImageConfig](ctx, s.db, collectionImageConfigs, docID(id))
}

// ListImageConfigs lists a user's image config documents.
func (s *PostgresStorage) ListImageConfigs(ctx context.Context, userID string) ([]types.ImageConfig, error) {
	return listDocuments[types.ImageConfig](ctx, s.db, collectionImageConfigs, userID)
}

// DeleteImageConfig removes an image config document.
func (s *PostgresStorage) DeleteImageConfig(ctx context.Context, id uint64) (types.ImageConfig, error) {
	return deleteDocument[types.ImageConfig](ctx, s.db, collectionImageConfigs, docID(id))
}

// GetUserSettings retrieves a settings document.
func (s *PostgresStorage) GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error) {
	return getDocument[types.UserSettings](ctx, s.db, collectionSettings, userID)
}

// SaveUserSettings saves a settings document.
func (s *PostgresStorage) SaveUserSettings(ctx context.Context, settings types.UserSettings) error {
	return s.putDocument(ctx, collectionSettings, settings.UserID, settings.UserID, settings)
}

// AddMember adds member to list.
func (s *PostgresStorage) AddMember(ctx context.Context, list types.AccessList, member string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO access_members (list, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(list), member)
	return err
}

// RemoveMember removes member from list.
func (s *PostgresStorage) RemoveMember(ctx context.Context, list types.AccessList, member string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM access_members WHERE list = $1 AND member = $2`, string(list), member)
	return err
}

// IsMember reports whether member is in list.
func (s *PostgresStorage) IsMember(ctx context.Context, list types.AccessList, member string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM access_members WHERE list = $1 AND member = $2)`, string(list), member).Scan(&ok)
	return ok, err
}

// CountMembers returns the size of list.
func (s *PostgresStorage) CountMembers(ctx context.Context, list types.AccessList) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM access_members WHERE list = $1`, string(list)).Scan(&n)
	return n, err
}

// Ping checks the database connection.
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}
