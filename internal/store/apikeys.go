package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// APIKey is one stored API key. Only the SHA-256 hash of the raw key is
// persisted.
type APIKey struct {
	ID                 uuid.UUID
	Label              string
	IsAdmin            bool
	RateLimitPerMinute int
	CreatedAt          time.Time
}

// hashAPIKey hashes a raw API key string using SHA-256 and returns a hex string.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GetAPIKeyByRawKey resolves a presented raw key to its record. Returns
// sql.ErrNoRows for unknown or revoked keys.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, raw string) (APIKey, error) {
	var k APIKey
	var rate sql.NullInt32
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, label, is_admin, rate_limit_per_minute, created_at
		FROM api_keys
		WHERE key_hash = $1 AND NOT revoked`,
		hashAPIKey(raw)).Scan(&k.ID, &k.Label, &k.IsAdmin, &rate, &k.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	if rate.Valid {
		k.RateLimitPerMinute = int(rate.Int32)
	}
	return k, nil
}

// EnsureAdminAPIKey inserts an admin key with the given raw value if no
// key with that hash exists yet. Idempotent so it can run on every boot.
func (s *Store) EnsureAdminAPIKey(ctx context.Context, raw, label string) (uuid.UUID, error) {
	existing, err := s.GetAPIKeyByRawKey(ctx, raw)
	if err == nil {
		return existing.ID, nil
	}
	if err != sql.ErrNoRows {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, label, is_admin, created_at)
		VALUES ($1, $2, $3, TRUE, NOW())`,
		id, hashAPIKey(raw), label)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Another process inserted this key concurrently.
			return s.keyIDByHash(ctx, hashAPIKey(raw))
		}
		return uuid.Nil, fmt.Errorf("insert admin api key: %w", err)
	}
	return id, nil
}

func (s *Store) keyIDByHash(ctx context.Context, hash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.DB.QueryRowContext(ctx, `SELECT id FROM api_keys WHERE key_hash = $1`, hash).Scan(&id)
	return id, err
}
