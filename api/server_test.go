package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stockpulse/sentinel/internal/security/apikey"
	"github.com/stockpulse/sentinel/internal/security/audit"
	"github.com/stockpulse/sentinel/internal/security/credentials"
	"github.com/stockpulse/sentinel/internal/security/encryption"
	"github.com/stockpulse/sentinel/internal/security/models"
	"github.com/stockpulse/sentinel/internal/security/ratelimit"
	"github.com/stockpulse/sentinel/internal/security/twofa"
	"github.com/stockpulse/sentinel/internal/trading"
)

type fixture struct {
	server *Server
	keys   *apikey.Service
	twoFA  *twofa.Service
	db     *gorm.DB
}

func newFixture(t *testing.T, limiterMax int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	logger := zap.NewNop()
	auditSvc, err := audit.NewService(logger, db, "", 0, 0)
	require.NoError(t, err)

	keys := apikey.NewService(logger, apikey.NewGormStore(db), auditSvc)
	twoFA := twofa.NewService(logger, twofa.NewGormStore(db), "Sentinel")
	limiter := ratelimit.NewSlidingWindowLimiter(limiterMax, time.Minute)
	executor := trading.NewPaperExecutor(logger, decimal.RequireFromString("100000000.00"))
	gate := trading.NewGate(logger, executor, twoFA, auditSvc, decimal.RequireFromString("5000000.00"))

	crypto, err := encryption.NewService(logger)
	require.NoError(t, err)
	creds := credentials.NewService(logger, db, crypto)

	return &fixture{
		server: NewServer(logger, keys, twoFA, limiter, gate, auditSvc, creds),
		keys:   keys,
		twoFA:  twoFA,
		db:     db,
	}
}

func (f *fixture) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) issueKey(t *testing.T, userID string) string {
	t.Helper()
	key, err := f.keys.Issue(context.Background(), userID, "test")
	require.NoError(t, err)
	return key
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, 100)
	rec := f.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTradingRequiresAPIKey(t *testing.T) {
	f := newFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/api/v1/trading/execute", "", map[string]interface{}{
		"symbol": "AAPL", "action": "BUY", "quantity": "1", "price": "100",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_FAILED", decodeBody(t, rec)["code"])

	rec = f.do(t, http.MethodPost, "/api/v1/trading/execute", "bogus-key", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueKeyEndToEnd(t *testing.T) {
	f := newFixture(t, 100)

	rec := f.do(t, http.MethodPost, "/api/v1/security/api-keys", "", map[string]string{
		"user_id": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	key, ok := decodeBody(t, rec)["api_key"].(string)
	require.True(t, ok)
	require.NotEmpty(t, key)

	rec = f.do(t, http.MethodGet, "/api/v1/security/2fa/status", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["user_id"])
	assert.Equal(t, false, body["2fa_enabled"])
}

func TestRevokedKeyIsRejected(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodDelete, "/api/v1/security/api-keys", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/security/2fa/status", key, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExecuteSmallTrade(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/trading/execute", key, map[string]interface{}{
		"symbol": "AAPL", "action": "BUY", "quantity": "10", "price": "150",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "AAPL", body["symbol"])
	assert.NotEmpty(t, body["trade_id"])
}

func TestExecuteLargeTradeDemandsSecondFactor(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")
	secret, err := f.twoFA.Enroll(context.Background(), "alice")
	require.NoError(t, err)

	large := map[string]interface{}{
		"symbol": "AAPL", "action": "BUY", "quantity": "40000", "price": "150",
	}

	rec := f.do(t, http.MethodPost, "/api/v1/trading/execute", key, large)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "2FA_REQUIRED", decodeBody(t, rec)["code"])

	large["two_fa_code"] = "000000"
	rec = f.do(t, http.MethodPost, "/api/v1/trading/execute", key, large)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "2FA_INVALID", decodeBody(t, rec)["code"])

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	large["two_fa_code"] = code
	rec = f.do(t, http.MethodPost, "/api/v1/trading/execute", key, large)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecuteRejectsBadInput(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/trading/execute", key, map[string]interface{}{
		"symbol": "AAPL", "action": "SHORT", "quantity": "1", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/trading/execute", key, map[string]interface{}{
		"symbol": "AAPL", "action": "BUY", "quantity": "-5", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitRejectsWith429(t *testing.T) {
	f := newFixture(t, 2)
	key := f.issueKey(t, "alice")

	path := "/api/v1/security/2fa/status"
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, key, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, key, nil).Code)

	rec := f.do(t, http.MethodGet, path, key, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.Equal(t, float64(2), body["max"])
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestAutoTradingLifecycle(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/trading/auto/start", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/trading/auto/stop", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAutoTradingStartNeedsCodeWhenEnrolled(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")
	secret, err := f.twoFA.Enroll(context.Background(), "alice")
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/trading/auto/start", key, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/v1/trading/auto/start", key, map[string]string{"two_fa_code": code})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Stop needs no code even while enrolled.
	rec = f.do(t, http.MethodPost, "/api/v1/trading/auto/stop", key, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecondFactorSetupAndVerify(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/security/2fa/setup", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	secret, ok := body["secret"].(string)
	require.True(t, ok)
	assert.Contains(t, body["provisioning_uri"], "otpauth://")

	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	rec = f.do(t, http.MethodPost, "/api/v1/security/2fa/verify", "", map[string]string{
		"user_id": "alice", "code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestCredentialVaultEndpoints(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/security/credentials", key, map[string]string{
		"service": "alpaca", "type": "api_key", "value": "AKIA123",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/security/credentials/alpaca", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"api_key"}, decodeBody(t, rec)["types"])

	rec = f.do(t, http.MethodDelete, "/api/v1/security/credentials/alpaca/api_key", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/security/credentials/alpaca/api_key", key, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditRecentEndpoint(t *testing.T) {
	f := newFixture(t, 100)
	key := f.issueKey(t, "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/trading/execute", key, map[string]interface{}{
		"symbol": "AAPL", "action": "BUY", "quantity": "1", "price": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/security/audit/recent", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries, ok := decodeBody(t, rec)["entries"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, entries)
}
