package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stockpulse/sentinel/internal/security/encryption"
	"github.com/stockpulse/sentinel/internal/security/models"
)

func newTestVault(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.EncryptedCredential{}))

	crypto, err := encryption.NewService(zap.NewNop())
	require.NoError(t, err)
	return NewService(zap.NewNop(), db, crypto), db
}

func TestStoreAndGet(t *testing.T) {
	vault, db := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "AKIA123"))

	got, err := vault.Get(ctx, "alice", "alpaca", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", got)

	// The row never holds the plaintext.
	var record models.EncryptedCredential
	require.NoError(t, db.First(&record).Error)
	assert.NotEqual(t, "AKIA123", record.EncryptedValue)
	assert.NotContains(t, record.EncryptedValue, "AKIA123")
}

func TestStoreReplacesExisting(t *testing.T) {
	vault, db := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "old-value"))
	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "new-value"))

	got, err := vault.Get(ctx, "alice", "alpaca", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "new-value", got)

	var count int64
	require.NoError(t, db.Model(&models.EncryptedCredential{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetUnknownCredential(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	_, err := vault.Get(ctx, "alice", "alpaca", "api_key")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestGetAll(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "AKIA123"))
	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_secret", "deadbeef"))
	require.NoError(t, vault.Store(ctx, "alice", "polygon", "api_key", "other"))

	all, err := vault.GetAll(ctx, "alice", "alpaca")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"api_key":    "AKIA123",
		"api_secret": "deadbeef",
	}, all)
}

func TestTypesAndDelete(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "AKIA123"))
	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_secret", "deadbeef"))

	types, err := vault.Types(ctx, "alice", "alpaca")
	require.NoError(t, err)
	assert.Equal(t, []string{"api_key", "api_secret"}, types)

	removed, err := vault.Delete(ctx, "alice", "alpaca", "api_key")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = vault.Delete(ctx, "alice", "alpaca", "api_key")
	require.NoError(t, err)
	assert.False(t, removed, "deleting a missing credential reports nothing removed")

	_, err = vault.Get(ctx, "alice", "alpaca", "api_key")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestCredentialsAreScopedToUser(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Store(ctx, "alice", "alpaca", "api_key", "alice-key"))

	_, err := vault.Get(ctx, "bob", "alpaca", "api_key")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}
