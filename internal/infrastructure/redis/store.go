// Package redis provides the ephemeral key-value store backing token
// revocation, email OTP counters, FIDO ceremony state and reset tokens.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studiotrack/auth-service/internal/infrastructure/config"
)

// Client wraps the Redis client.
type Client struct {
	*redis.Client
}

// NewClient creates a new Redis client. An unreachable server is logged
// but not fatal: the store keeps operating in degraded mode and
// recovers when the server comes back.
func NewClient(cfg *config.RedisConfig) *Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("address", cfg.Address()).
			Msg("Redis unreachable, token store starts degraded")
	} else {
		log.Info().
			Str("address", cfg.Address()).
			Int("db", cfg.DB).
			Msg("Redis connection established")
	}

	return &Client{client}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if err := c.Client.Close(); err != nil {
		return fmt.Errorf("failed to close redis: %w", err)
	}
	log.Info().Msg("Redis connection closed")
	return nil
}

// Health checks if the store is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Token marker values. A registered token is present with value
// "false"; revocation overwrites it with "true" for the remaining
// token lifetime.
const (
	tokenRegistered = "false"
	tokenRevoked    = "true"
)

// namespace keeps every auth entry under one prefix so Clear never
// touches foreign data sharing the database.
const namespace = "auth:store:"

// Key builders for the non-token entry families.
func emailOTPCountKey(email string) string { return "email-otp-count-" + email }
func fidoStateKey(personID string) string  { return "fido-state-" + personID }
func resetTokenKey(email string) string    { return "reset-token-" + email }

// Store is the ephemeral KV store with per-key TTLs.
type Store struct {
	client *Client
}

// NewStore creates a new Store.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Add stores a value under a key with a TTL.
func (s *Store) Add(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store key %s: %w", key, err)
	}
	return nil
}

// Get returns the value under a key, empty when the key is missing or
// expired.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, namespace+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return val, nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, namespace+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Keys lists every key currently in the store, without the internal
// namespace.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.client.Client.Keys(ctx, namespace+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, namespace))
	}
	return keys, nil
}

// Clear removes every key in the store.
func (s *Store) Clear(ctx context.Context) error {
	raw, err := s.client.Client.Keys(ctx, namespace+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to list keys for clear: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, raw...).Err(); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// RegisterToken marks a freshly issued token as known for its lifetime.
func (s *Store) RegisterToken(ctx context.Context, jti string, ttl time.Duration) error {
	return s.Add(ctx, jti, tokenRegistered, ttl)
}

// RevokeToken marks a token revoked for the given remaining lifetime.
func (s *Store) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	return s.Add(ctx, jti, tokenRevoked, ttl)
}

// IsRevoked reports whether the jti has been revoked. A store failure
// reports as revoked so an unreachable store never lets a revoked
// token through.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	val, err := s.client.Get(ctx, namespace+jti).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return true, fmt.Errorf("failed to check revocation for %s: %w", jti, err)
	}
	return val == tokenRevoked, nil
}

// SetEmailOTPCounter stores the pending email OTP counter for an email,
// one counter at a time.
func (s *Store) SetEmailOTPCounter(ctx context.Context, email string, counter uint64, ttl time.Duration) error {
	return s.Add(ctx, emailOTPCountKey(email), fmt.Sprintf("%d", counter), ttl)
}

// GetEmailOTPCounter returns the pending counter. ok is false when no
// code was requested or the entry expired.
func (s *Store) GetEmailOTPCounter(ctx context.Context, email string) (counter uint64, ok bool, err error) {
	val, err := s.Get(ctx, emailOTPCountKey(email))
	if err != nil || val == "" {
		return 0, false, err
	}
	var c uint64
	if _, err := fmt.Sscanf(val, "%d", &c); err != nil {
		return 0, false, fmt.Errorf("corrupt email OTP counter for %s: %w", email, err)
	}
	return c, true, nil
}

// DeleteEmailOTPCounter consumes the pending counter, single use.
func (s *Store) DeleteEmailOTPCounter(ctx context.Context, email string) error {
	return s.Delete(ctx, emailOTPCountKey(email))
}

// SetFIDOState stores the pending WebAuthn ceremony state for a person.
func (s *Store) SetFIDOState(ctx context.Context, personID string, state []byte, ttl time.Duration) error {
	return s.Add(ctx, fidoStateKey(personID), string(state), ttl)
}

// PopFIDOState returns and deletes the pending ceremony state, single
// use. ok is false when no ceremony was started or it expired.
func (s *Store) PopFIDOState(ctx context.Context, personID string) (state []byte, ok bool, err error) {
	key := fidoStateKey(personID)
	val, err := s.Get(ctx, key)
	if err != nil || val == "" {
		return nil, false, err
	}
	if err := s.Delete(ctx, key); err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

// SetResetToken stores a pending password reset token for an email.
func (s *Store) SetResetToken(ctx context.Context, email, token string, ttl time.Duration) error {
	return s.Add(ctx, resetTokenKey(email), token, ttl)
}

// PopResetToken returns and deletes the pending reset token, single
// use.
func (s *Store) PopResetToken(ctx context.Context, email string) (string, error) {
	key := resetTokenKey(email)
	val, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if val == "" {
		return "", nil
	}
	if err := s.Delete(ctx, key); err != nil {
		return "", err
	}
	return val, nil
}
