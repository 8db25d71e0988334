// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package reset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castellan/castellan/internal/platform/apperr"
	"github.com/castellan/castellan/internal/platform/constants"
	"github.com/castellan/castellan/internal/platform/sec"
)

// TokenStore persists outstanding reset tokens.
//
// At most one token may be outstanding per account: Put overwrites any prior
// token for the same account. An absent token is [apperr.NotFound].
type TokenStore interface {
	Put(ctx context.Context, token, accountID string, issuedAt time.Time) error
	Get(ctx context.Context, token string) (accountID string, issuedAt time.Time, err error)
	Delete(ctx context.Context, token string) error
	DeleteForAccount(ctx context.Context, accountID string) error
}

// tokenRecord is the JSON payload stored per token.
type tokenRecord struct {
	AccountID string    `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
}

// RedisTokenStore implements [TokenStore] on Redis.
//
// # Layout
//
// Two keys per outstanding token:
//   - identity:reset_token:<sha256(token)>   → JSON {account_id, issued_at}
//   - identity:reset_account:<account_id>    → sha256(token)
//
// The account index makes the one-outstanding-token-per-account overwrite a
// constant-time operation. Tokens are stored by digest only; the clear value
// never reaches Redis. Both keys expire a little after the validity window
// as a safety net; the service still checks the window explicitly.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore creates a Redis-backed [TokenStore].
//
// # Parameters
//   - client: Connected Redis client.
//   - window: The configured token validity window; keys live slightly longer.
func NewRedisTokenStore(client *redis.Client, window time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: window + time.Minute}
}

func tokenKey(digest string) string {
	return constants.RedisPrefixResetToken + digest
}

func accountKey(accountID string) string {
	return constants.RedisPrefixResetAccount + accountID
}

// Put stores a token, overwriting any prior token for the same account.
func (store *RedisTokenStore) Put(ctx context.Context, token, accountID string, issuedAt time.Time) error {
	// Drop the previous token first so it cannot be consumed anymore.
	if err := store.DeleteForAccount(ctx, accountID); err != nil {
		return err
	}

	payload, err := json.Marshal(tokenRecord{AccountID: accountID, IssuedAt: issuedAt})
	if err != nil {
		return fmt.Errorf("reset_token_store_marshal_failed: %w", err)
	}

	digest := sec.HashToken(token)

	pipeline := store.client.TxPipeline()
	pipeline.Set(ctx, tokenKey(digest), payload, store.ttl)
	pipeline.Set(ctx, accountKey(accountID), digest, store.ttl)

	if _, err := pipeline.Exec(ctx); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("reset_token_store_put_failed: %w", err))
	}

	return nil
}

// Get resolves a token to its account and issuance timestamp.
func (store *RedisTokenStore) Get(ctx context.Context, token string) (string, time.Time, error) {
	digest := sec.HashToken(token)

	payload, err := store.client.Get(ctx, tokenKey(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", time.Time{}, apperr.NotFound("Reset token")
		}
		return "", time.Time{}, apperr.StoreUnavailable(fmt.Errorf("reset_token_store_get_failed: %w", err))
	}

	var record tokenRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return "", time.Time{}, apperr.StoreUnavailable(fmt.Errorf("reset_token_store_decode_failed: %w", err))
	}

	return record.AccountID, record.IssuedAt, nil
}

// Delete consumes a token. Idempotent.
func (store *RedisTokenStore) Delete(ctx context.Context, token string) error {
	digest := sec.HashToken(token)

	// Resolve the account index before dropping the token key.
	payload, err := store.client.Get(ctx, tokenKey(digest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return apperr.StoreUnavailable(fmt.Errorf("reset_token_store_delete_lookup_failed: %w", err))
	}

	var record tokenRecord
	keys := []string{tokenKey(digest)}
	if err := json.Unmarshal(payload, &record); err == nil && record.AccountID != "" {
		keys = append(keys, accountKey(record.AccountID))
	}

	if err := store.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("reset_token_store_delete_failed: %w", err))
	}

	return nil
}

// DeleteForAccount invalidates any outstanding token for an account. Idempotent.
func (store *RedisTokenStore) DeleteForAccount(ctx context.Context, accountID string) error {
	digest, err := store.client.Get(ctx, accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return apperr.StoreUnavailable(fmt.Errorf("reset_token_store_index_lookup_failed: %w", err))
	}

	if err := store.client.Del(ctx, tokenKey(digest), accountKey(accountID)).Err(); err != nil {
		return apperr.StoreUnavailable(fmt.Errorf("reset_token_store_purge_failed: %w", err))
	}

	return nil
}
