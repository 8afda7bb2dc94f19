// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/billora/billora/internal/platform/ctxutil"
	"github.com/billora/billora/internal/platform/sec"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_AuthIdentity verifies that AuthClaims can be stored in context.
*/
func TestContext_AuthIdentity(t *testing.T) {
	ctx := context.Background()
	claims := &sec.AuthClaims{
		IdentityID: "identity-123",
		Role:       "owner",
	}

	// 1. Initially should be nil
	assert.Nil(t, ctxutil.GetAuthIdentity(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithAuthIdentity(ctx, claims)
	retrieved := ctxutil.GetAuthIdentity(ctx)

	assert.NotNil(t, retrieved)
	assert.Equal(t, "identity-123", retrieved.IdentityID)
	assert.Equal(t, "owner", retrieved.Role)
}
