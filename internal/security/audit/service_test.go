package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stockpulse/sentinel/internal/security/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AuditLog{}, &models.TradeAuditLog{}))
	return db
}

func TestLogPersistsRow(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(zap.NewNop(), db, "", 0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	svc.LogAuth(ctx, "alice", "key_issued", true, "name=dashboard", "10.0.0.1")
	svc.LogSecurityEvent(ctx, "alice", "auto_trading_stop", true, "auto-trading stopped", "10.0.0.1")

	var rows []models.AuditLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 2)

	byAction := map[string]models.AuditLog{}
	for _, r := range rows {
		byAction[r.Action] = r
	}
	assert.Equal(t, models.CategoryAuth, byAction["key_issued"].EventType)
	assert.Equal(t, models.CategorySecurity, byAction["auto_trading_stop"].EventType)
	assert.Equal(t, "10.0.0.1", byAction["key_issued"].IPAddress)
	assert.True(t, byAction["key_issued"].Success)
}

func TestLogTradePersistsOneRow(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(zap.NewNop(), db, "", 0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	svc.LogTrade(ctx, &models.TradeAuditLog{
		UserID:      "alice",
		Action:      "BUY",
		Symbol:      "AAPL",
		Quantity:    decimal.NewFromInt(10),
		Price:       decimal.NewFromInt(150),
		TotalAmount: decimal.NewFromInt(1500),
		Status:      models.TradeStatusSuccess,
	})

	var rows []models.TradeAuditLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, models.TradeStatusSuccess, rows[0].Status)
	assert.False(t, rows[0].Timestamp.IsZero())
}

func TestLogNeverFailsCaller(t *testing.T) {
	// No database and no file channel: logging must still be a no-op
	// success, not a panic or error.
	svc, err := NewService(zap.NewNop(), nil, "", 0, 0)
	require.NoError(t, err)
	ctx := context.Background()

	svc.LogAuth(ctx, "alice", "key_issued", true, "", "")
	svc.LogTrade(ctx, &models.TradeAuditLog{
		UserID: "alice", Action: "BUY", Symbol: "AAPL",
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(1),
		TotalAmount: decimal.NewFromInt(1), Status: models.TradeStatusSuccess,
	})

	entries, err := svc.RecentByUser(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileChannelWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	svc, err := NewService(zap.NewNop(), nil, path, 1<<20, 3)
	require.NoError(t, err)
	ctx := context.Background()

	svc.LogAuth(ctx, "alice", "2fa_setup", true, "", "10.0.0.1")
	require.NoError(t, svc.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
	assert.Equal(t, "alice", line["user_id"])
	assert.Equal(t, "2fa_setup", line["action"])
	assert.Equal(t, models.CategoryAuth, line["category"])
}

func TestFileChannelRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	svc, err := NewService(zap.NewNop(), nil, path, 512, 2)
	require.NoError(t, err)
	ctx := context.Background()

	details := strings.Repeat("x", 200)
	for i := 0; i < 20; i++ {
		svc.LogAuth(ctx, "alice", "burst", true, details, "")
	}
	require.NoError(t, svc.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(512+300), "active segment stays near the size bound")

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated backup should exist")
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "backups beyond the count are dropped")
}

func TestRecentQueries(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(zap.NewNop(), db, "", 0, 0)
	require.NoError(t, err)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	svc.LogAuth(ctx, "alice", "first", true, "", "")
	svc.LogAuth(ctx, "alice", "second", true, "", "")
	svc.LogAuth(ctx, "bob", "other", true, "", "")
	svc.LogSecurityEvent(ctx, "alice", "third", false, "", "")

	entries, err := svc.RecentByUser(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Action)
	assert.Equal(t, "second", entries[1].Action)

	authOnly, err := svc.RecentByCategory(ctx, models.CategoryAuth, 10)
	require.NoError(t, err)
	assert.Len(t, authOnly, 3)
}
