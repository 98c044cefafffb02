package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemory(bcrypt.MinCost, zap.NewNop())

	_, err := d.ResetPassword(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSuchAccount)

	require.NoError(t, d.CreateAccount(ctx, "alice"))
	assert.ErrorIs(t, d.CreateAccount(ctx, "alice"), ErrAccountExists)

	secret, err := d.ResetPassword(ctx, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.True(t, d.Authenticate("alice", secret))
	assert.False(t, d.Authenticate("alice", "guess"))

	again, err := d.ResetPassword(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, secret, again)
	assert.False(t, d.Authenticate("alice", secret))

	require.NoError(t, d.UpdateAttributes(ctx, "alice", map[string]string{"telegramId": "42"}))
	attrs, ok := d.Attributes("alice")
	require.True(t, ok)
	assert.Equal(t, "42", attrs["telegramId"])
}
