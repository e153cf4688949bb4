package authflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramgate/gramgate/internal/models"
	"github.com/gramgate/gramgate/internal/session"
)

func newTestService(t *testing.T) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	tokens, err := session.NewManager("service-test-secret", time.Hour)
	require.NoError(t, err)
	return NewService(f.engine, tokens), f
}

func TestServiceIssuesSessionTokenOnLogin(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()
	f.provider.SetPassword("alice.doe", "hunter2222")

	svc.BeginRegistration(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	r := svc.HandleReply(ctx, "tg-1", "yes")
	require.True(t, r.Terminal)
	assert.Empty(t, r.SessionToken)

	svc.BeginLogin(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	r = svc.HandleReply(ctx, "tg-1", "hunter2222")

	require.True(t, r.Authenticated)
	require.NotEmpty(t, r.SessionToken)

	tokens, err := session.NewManager("service-test-secret", time.Hour)
	require.NoError(t, err)
	userID, err := tokens.Verify(r.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "tg-1", userID)
}

func TestServiceMapsPreconditionErrors(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()

	r := svc.BeginLogin(ctx, "tg-1")
	assert.Equal(t, msgNotRegistered, r.Text)
	r = svc.BeginReset(ctx, "tg-1")
	assert.Equal(t, msgNotRegistered, r.Text)

	f.register(t, "tg-1", "alice.doe")
	r = svc.BeginRegistration(ctx, "tg-1")
	assert.Equal(t, msgAlreadyRegistered, r.Text)
}

func TestServiceMapsBlockedToCooldownMessage(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()
	f.register(t, "tg-1", "alice.doe")

	svc.BeginLogin(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	svc.HandleReply(ctx, "tg-1", "wrong")
	svc.HandleReply(ctx, "tg-1", "wrong")
	r := svc.HandleReply(ctx, "tg-1", "wrong")

	assert.True(t, r.Terminal)
	assert.Contains(t, r.Text, "Too many failed attempts. Try again in")
	assert.NotContains(t, r.Text, "wrong")

	// A fresh dialog starts, but the password reply hits the cool-down.
	svc.BeginLogin(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	r = svc.HandleReply(ctx, "tg-1", "hunter2222")
	assert.Contains(t, r.Text, "Too many failed attempts")
}

func TestServiceMapsTransientToRetryMessage(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()
	f.provider.AddProfile("alice.doe")

	svc.BeginRegistration(ctx, "tg-1")
	f.provider.Err = fmt.Errorf("%w: instagram unreachable", models.ErrTransient)
	r := svc.HandleReply(ctx, "tg-1", "alice.doe")
	assert.Equal(t, msgTransient, r.Text)

	// A non-transient internal failure gets the generic message.
	f.provider.Err = context.DeadlineExceeded
	r = svc.HandleReply(ctx, "tg-1", "alice.doe")
	assert.Equal(t, msgInternal, r.Text)
}

func TestServiceMapsIntegrityFailure(t *testing.T) {
	svc, f := newTestService(t)
	ctx := context.Background()
	f.register(t, "tg-1", "alice.doe")
	f.login(t, "tg-1", "alice.doe", "hunter2222")

	rec, err := f.store.GetCredential("tg-1")
	require.NoError(t, err)
	rec.EncryptedSecret[0] ^= 0xFF
	require.NoError(t, f.store.SaveCredential(*rec))

	_, _, err = svc.Credentials(ctx, "tg-1")
	require.Error(t, err)
}

func TestServiceWithoutTokenManager(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.engine, nil)
	ctx := context.Background()
	f.provider.SetPassword("alice.doe", "hunter2222")

	svc.BeginRegistration(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	svc.HandleReply(ctx, "tg-1", "yes")
	svc.BeginLogin(ctx, "tg-1")
	svc.HandleReply(ctx, "tg-1", "alice.doe")
	r := svc.HandleReply(ctx, "tg-1", "hunter2222")

	assert.True(t, r.Authenticated)
	assert.Empty(t, r.SessionToken)
}
