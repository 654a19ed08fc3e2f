// Package store manages Calgate's persistent state backed by SQLite:
// users, API keys, encrypted credential records, and the request log.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/calgate/calgate/internal/model"
)

// Store is the gateway's datastore. All mutations to a single row are issued
// as one UPDATE statement, so concurrent requests can never leave a record
// half-written.
type Store struct {
	db *sqlx.DB
}

// New creates a new store. Pass empty string for in-memory (tests).
func New(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "calgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. A UUID is assigned when the ID is
// empty; CreatedAt is populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO users (id, email, name, password_hash, is_admin, is_active, created_at)
		VALUES (:id, :email, :name, :password_hash, :is_admin, :is_active, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all user accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CountUsers returns the total number of user accounts.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users"); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use HashAPIKey). The ID and CreatedAt fields are populated after
// insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys (user_id, key_hash, key_preview, is_active, created_at, usage_count)
		VALUES (:user_id, :key_hash, :key_preview, :is_active, :created_at, 0)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeysForUser returns all of a user's API keys, most recent first.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	const q = "SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	if err := s.db.SelectContext(ctx, &keys, q, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKeyOwned marks an API key as inactive, but only when it belongs
// to the given user. Reports whether a row was updated; a missing key and a
// key owned by someone else are indistinguishable.
func (s *Store) RevokeAPIKeyOwned(ctx context.Context, keyID int64, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE id = ? AND user_id = ?", keyID, userID)
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchAPIKey bumps the usage counter and last_used timestamp in a single
// statement. Lost increments under write races are tolerated; the
// is_active flag is never written here.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// CountActiveAPIKeys returns the number of non-revoked API keys.
func (s *Store) CountActiveAPIKeys(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM api_keys WHERE is_active = 1"); err != nil {
		return 0, fmt.Errorf("count active api keys: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Credential records
// ---------------------------------------------------------------------------

// UpsertCredential stores a user's encrypted credential blob, overwriting
// any prior record and refreshing its timestamp.
func (s *Store) UpsertCredential(ctx context.Context, userID string, ciphertext []byte) error {
	const q = `INSERT INTO credentials (user_id, ciphertext, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, q, userID, ciphertext, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns a user's credential record, or ErrNotFound.
func (s *Store) GetCredential(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	var rec model.CredentialRecord
	if err := s.db.GetContext(ctx, &rec, "SELECT * FROM credentials WHERE user_id = ?", userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &rec, nil
}

// DeleteCredential removes a user's credential record.
func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCredentials returns the number of users with stored credentials.
func (s *Store) CountCredentials(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM credentials"); err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Request log
// ---------------------------------------------------------------------------

// InsertRequestLog appends one gateway invocation record. The ID and
// CreatedAt fields are populated after insert.
func (s *Store) InsertRequestLog(ctx context.Context, entry *model.RequestLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO request_logs (user_id, method, tool_name, success, duration_ms, error, origin, created_at)
		VALUES (:user_id, :method, :tool_name, :success, :duration_ms, :error, :origin, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, entry)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get request log id: %w", err)
	}
	entry.ID = id
	return nil
}

// CountRequestLogs returns the total number of logged invocations.
func (s *Store) CountRequestLogs(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM request_logs"); err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return n, nil
}

// RequestTotalsSince returns the total and successful invocation counts
// recorded at or after the given instant.
func (s *Store) RequestTotalsSince(ctx context.Context, since time.Time) (total, success int64, err error) {
	row := struct {
		Total   int64 `db:"total"`
		Success int64 `db:"success"`
	}{}
	const q = `SELECT COUNT(*) AS total, COALESCE(SUM(success), 0) AS success
		FROM request_logs WHERE created_at >= ?`
	if err := s.db.GetContext(ctx, &row, q, since); err != nil {
		return 0, 0, fmt.Errorf("request totals: %w", err)
	}
	return row.Total, row.Success, nil
}

// ToolUsageSince returns per-tool invocation counts recorded at or after
// the given instant. Entries without a tool name are excluded.
func (s *Store) ToolUsageSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows := []struct {
		ToolName string `db:"tool_name"`
		Count    int64  `db:"count"`
	}{}
	const q = `SELECT tool_name, COUNT(*) AS count FROM request_logs
		WHERE created_at >= ? AND tool_name != ''
		GROUP BY tool_name`
	if err := s.db.SelectContext(ctx, &rows, q, since); err != nil {
		return nil, fmt.Errorf("tool usage: %w", err)
	}

	usage := make(map[string]int64, len(rows))
	for _, r := range rows {
		usage[r.ToolName] = r.Count
	}
	return usage, nil
}

// RecentRequests returns the n most recent log entries, newest first, each
// joined with the owning user's display info.
func (s *Store) RecentRequests(ctx context.Context, n int) ([]model.RecentRequest, error) {
	var entries []model.RecentRequest
	const q = `SELECT r.*, COALESCE(u.name, '') AS user_name, COALESCE(u.email, '') AS user_email
		FROM request_logs r
		LEFT JOIN users u ON u.id = r.user_id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?`
	if err := s.db.SelectContext(ctx, &entries, q, n); err != nil {
		return nil, fmt.Errorf("recent requests: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores or replaces a settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const q = `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
