// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists users, credential hashes and pairing codes with automatic schema creation

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			user_id    TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			key_hash   TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			kind       TEXT NOT NULL DEFAULT 'agent' CHECK (kind IN ('agent', 'session')),
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);

		-- Short-lived pairing codes issued on behalf of a user
		CREATE TABLE IF NOT EXISTS pairing_codes (
			code       TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_pairing_codes_expires ON pairing_codes(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: api_keys predate session tokens and lacked a kind column.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('api_keys') WHERE name = 'kind'`).Scan(&exists)
	if err == nil {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE api_keys ADD COLUMN kind TEXT NOT NULL DEFAULT 'agent'`); err != nil {
		return fmt.Errorf("adding kind column to api_keys: %w", err)
	}
	s.logger.Info("applied migration", "column", "kind", "table", "api_keys")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// hashCredential reduces a raw credential to the hex SHA-256 stored at rest
func hashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateUser persists a new user
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (user_id, created_at) VALUES (?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "user_id", user.UserID)
	return nil
}

// GetUser retrieves a user by id.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `SELECT user_id, created_at FROM users WHERE user_id = ?`

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateAPIKey stores the hash of a credential for a user
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, userID, credential, kind string) error {
	query := `INSERT INTO api_keys (key_hash, user_id, kind, created_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		hashCredential(credential),
		userID,
		kind,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Debug("created api key", "user_id", userID, "kind", kind)
	return nil
}

// LookupUserByCredential resolves a raw credential to its user.
// Returns ErrNotFound for unknown credentials.
func (s *SQLiteStore) LookupUserByCredential(ctx context.Context, credential string) (*User, error) {
	query := `
		SELECT u.user_id, u.created_at
		FROM api_keys k
		JOIN users u ON u.user_id = k.user_id
		WHERE k.key_hash = ?
	`

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, hashCredential(credential)).Scan(&user.UserID, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreatePairingRecord persists a short-lived pairing code for a user.
// Returns ErrDuplicateCode if the code is already live.
func (s *SQLiteStore) CreatePairingRecord(ctx context.Context, rec *PairingRecord) error {
	query := `INSERT INTO pairing_codes (code, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.Code,
		rec.UserID,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("inserting pairing code: %w", err)
	}

	s.logger.Debug("created pairing code", "user_id", rec.UserID, "expires_at", rec.ExpiresAt)
	return nil
}

// RedeemPairingRecord atomically consumes a pairing code and returns it.
// Unknown or expired codes return ErrNotFound; the row is gone either way,
// so a code can be redeemed exactly once.
func (s *SQLiteStore) RedeemPairingRecord(ctx context.Context, code string, now time.Time) (*PairingRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning redeem transaction: %w", err)
	}
	defer tx.Rollback()

	var rec PairingRecord
	var createdAtStr, expiresAtStr string

	query := `SELECT code, user_id, created_at, expires_at FROM pairing_codes WHERE code = ?`
	err = tx.QueryRowContext(ctx, query, code).Scan(&rec.Code, &rec.UserID, &createdAtStr, &expiresAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pairing code: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_codes WHERE code = ?`, code); err != nil {
		return nil, fmt.Errorf("deleting pairing code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing redeem: %w", err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	if now.After(rec.ExpiresAt) {
		s.logger.Debug("rejected expired pairing code", "user_id", rec.UserID)
		return nil, ErrNotFound
	}

	s.logger.Debug("redeemed pairing code", "user_id", rec.UserID)
	return &rec, nil
}

// DeleteExpiredPairingRecords sweeps records past their expiry
func (s *SQLiteStore) DeleteExpiredPairingRecords(ctx context.Context, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM pairing_codes WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("deleting expired pairing codes: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted expired pairing codes", "count", rowsAffected)
	}
	return nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
