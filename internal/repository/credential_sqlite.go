package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// SQLiteCredentialStore keeps credentials in a SQLite table, one row per user.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore opens (and if needed creates) the database at path.
func NewSQLiteCredentialStore(path string) (*SQLiteCredentialStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			user_id INTEGER PRIMARY KEY,
			data TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteCredentialStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}

// Save upserts the user's credential.
func (s *SQLiteCredentialStore) Save(ctx context.Context, userID domain.UserID, cred *domain.Credential) error {
	c := *cred
	c.UserID = userID
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now()
	}
	data, err := sonic.Marshal(&c)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at
	`, int64(userID), string(data), c.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Get returns the user's credential.
func (s *SQLiteCredentialStore) Get(ctx context.Context, userID domain.UserID) (*domain.Credential, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM credentials WHERE user_id = ?`, int64(userID)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	var c domain.Credential
	if err := sonic.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &c, nil
}

// Delete removes the user's credential.
func (s *SQLiteCredentialStore) Delete(ctx context.Context, userID domain.UserID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, int64(userID)); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// ListUserIDs returns every user with a stored credential, sorted ascending.
func (s *SQLiteCredentialStore) ListUserIDs(ctx context.Context) ([]domain.UserID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var ids []domain.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		ids = append(ids, domain.UserID(id))
	}
	return ids, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteCredentialStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
