package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-queue/internal/auth"
	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/encryption"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

func TestTokenIssueRoundTrip(t *testing.T) {
	cfg := &appconfig.Config{JWTSecret: "cli-secret"}
	tenantID, staffID := uuid.New(), uuid.New()
	var out bytes.Buffer

	err := run(context.Background(), cfg, []string{"token-issue",
		"--tenant", tenantID.String(), "--role", "doctor", "--staff", staffID.String()}, &out)
	require.NoError(t, err)

	actor, err := auth.NewVerifier("cli-secret").Authenticate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, tenancy.RoleDoctor, actor.Role())
	assert.Equal(t, tenantID, actor.TenantID())
	assert.Equal(t, staffID, actor.ID())
}

func TestTokenIssueRejectsBadRole(t *testing.T) {
	cfg := &appconfig.Config{JWTSecret: "cli-secret"}
	err := run(context.Background(), cfg, []string{"token-issue", "--tenant", uuid.NewString(), "--role", "nurse"}, &bytes.Buffer{})
	assert.ErrorIs(t, err, tenancy.ErrUnknownRole)
}

func TestGenKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &appconfig.Config{}, []string{"gen-key"}, &out))

	key := strings.TrimSpace(out.String())
	raw, err := base64.StdEncoding.DecodeString(key)
	require.NoError(t, err)
	assert.Len(t, raw, encryption.KeySize)

	_, err = encryption.NewSealerFromBase64(key)
	assert.NoError(t, err)
}

func TestUnknownCommand(t *testing.T) {
	assert.Error(t, run(context.Background(), &appconfig.Config{}, nil, &bytes.Buffer{}))
	assert.Error(t, run(context.Background(), &appconfig.Config{}, []string{"drop-all"}, &bytes.Buffer{}))
}

func TestFeeSetValidatesTenant(t *testing.T) {
	err := run(context.Background(), &appconfig.Config{}, []string{"fee-set", "--tenant", "nope", "--reason", "x", "--fees", "1"}, &bytes.Buffer{})
	assert.Error(t, err)
}
