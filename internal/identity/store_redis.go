// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/billora/billora/internal/platform/apperr"
)

// # One-Time Token Repository

// RedisTokenRepository implements TokenRepository using Redis.
//
// One repository instance serves one token class; the key prefix keeps the
// confirmation, magic-link, and recovery namespaces disjoint so a token can
// never be redeemed against the wrong flow.
type RedisTokenRepository struct {
	client *redis.Client
	prefix string
}

// NewTokenRepository creates a Redis-backed TokenRepository for a key prefix.
func NewTokenRepository(client *redis.Client, prefix string) *RedisTokenRepository {
	return &RedisTokenRepository{client: client, prefix: prefix}
}

/*
Set stores a token with its associated identityID and TTL.

Parameters:
  - context: context.Context
  - token: string
  - identityID: string
  - ttl: time.Duration

Returns:
  - error: Execution errors
*/
func (repository *RedisTokenRepository) Set(context context.Context, token string, identityID string, ttl time.Duration) error {

	// Namespace the token under the repository's prefix
	key := repository.prefix + token

	// Set the token with TTL
	if err := repository.client.Set(context, key, identityID, ttl).Err(); err != nil {
		return fmt.Errorf("redis_token_set_failed: %w", err)
	}

	// Return nil on success
	return nil
}

/*
Get retrieves the identityID for a given token.

Description: Returns apperr.NotFound if the token is absent or expired.

Parameters:
  - context: context.Context
  - token: string

Returns:
  - string: IdentityID
  - error: apperr.NotFound or connectivity errors
*/
func (repository *RedisTokenRepository) Get(context context.Context, token string) (string, error) {

	// Namespace the token under the repository's prefix
	key := repository.prefix + token

	// Get the token from Redis
	identityID, err := repository.client.Get(context, key).Result()

	// Handle errors
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound("Token")
		}
		return "", fmt.Errorf("redis_token_get_failed: %w", err)
	}

	// Return the identityID
	return identityID, nil
}

/*
Delete removes the token from Redis.

Parameters:
  - context: context.Context
  - token: string

Returns:
  - error: Deletion failures
*/
func (repository *RedisTokenRepository) Delete(context context.Context, token string) error {

	// Namespace the token under the repository's prefix
	key := repository.prefix + token

	// Delete the token from Redis
	if err := repository.client.Del(context, key).Err(); err != nil {
		return fmt.Errorf("redis_token_delete_failed: %w", err)
	}

	// Return nil on success
	return nil
}
