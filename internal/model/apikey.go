package model

import "time"

// APIKey is a long-lived bearer secret scoped to exactly one user. The raw
// key is never stored; only a SHA-256 hash and a short preview for
// identification are persisted. The preview is computed once at generation
// time and never recomputed.
type APIKey struct {
	ID         int64      `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	KeyHash    string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPreview string     `json:"key_preview" db:"key_preview"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsed   *time.Time `json:"last_used,omitempty" db:"last_used"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`
}
