// Package session tracks issued refresh tokens so they can be rotated and
// revoked.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gcc-cricket/clubserver/config"
)

// ErrNotFound is returned when a refresh token id is unknown, expired or
// already consumed.
var ErrNotFound = errors.New("session not found")

// Store records live refresh tokens by their jti.
type Store interface {
	// Save records jti for accountID until ttl elapses.
	Save(ctx context.Context, jti string, accountID int, ttl time.Duration) error
	// Consume removes jti and returns its account. Only one caller can
	// consume a given jti.
	Consume(ctx context.Context, jti string) (int, error)
	// Revoke removes jti. Revoking an unknown jti is not an error.
	Revoke(ctx context.Context, jti string) error
	// RevokeAccount removes every session of accountID.
	RevokeAccount(ctx context.Context, accountID int) error
	Close() error
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.SessionConfig) (Store, error) {
	switch cfg.Backend {
	case config.SessionRedis:
		return NewRedisStore(DefaultRedisConfig(cfg.RedisURL))
	case config.SessionMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
