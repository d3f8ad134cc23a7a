package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/config"
	"github.com/tippic/tippic_server/internal/logging"
)

func devConfig() config.Config {
	return config.Config{
		AppName:        "Tippic",
		AppEnv:         "test",
		IdempotencyTTL: time.Hour,
		Rewards: config.Rewards{
			RewardAmountNano:        15,
			LockTTL:                 12 * time.Second,
			SubmitTimeout:           5 * time.Second,
			CorrelationTTL:          time.Hour,
			MemoPrefix:              "1-tpc-",
			MinClientVersionAndroid: "0.1",
			MinClientVersionIOS:     "0.1",
			P2PMinAmount:            1,
			P2PMaxAmount:            1000,
		},
		PushAuth: config.PushAuth{
			ResendInterval:  time.Hour,
			GraceWindow:     time.Minute,
			AckRateLimitMin: 10,
		},
		TON: config.TON{PollInterval: time.Second},
	}
}

func newTestServer(t *testing.T) (*Server, *Services) {
	t.Helper()
	cfg := devConfig()
	svc, err := BuildServices(context.Background(), cfg, nil, nil, logging.Discard())
	require.NoError(t, err)
	return New(cfg, nil, nil, svc, logging.Discard()), svc
}

func call(t *testing.T, app *fiber.App, method, path, user, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("X-USERID", user)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestRegisterOnboardAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()
	uid := uuid.NewString()

	status, _ := call(t, app, fiber.MethodPost, "/user/register", uid,
		`{"user_id":"`+uid+`","os":"android","device_model":"Pixel","time_zone":"+01:00","app_ver":"1.2.0"}`)
	require.Equal(t, fiber.StatusCreated, status)

	status, body := call(t, app, fiber.MethodPost, "/user/onboard", uid, `{"public_address":"EQ-wallet-1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["rewarded"])

	status, body = call(t, app, fiber.MethodPost, "/user/onboard", uid, `{"public_address":"EQ-wallet-1"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "already_rewarded", body["status"])

	status, body = call(t, app, fiber.MethodGet, "/user/transactions", uid, "")
	require.Equal(t, fiber.StatusOK, status)
	txs, ok := body["txs"].([]any)
	require.True(t, ok)
	assert.Len(t, txs, 1)
}

func TestReportTransactionThroughAPI(t *testing.T) {
	srv, _ := newTestServer(t)
	app := srv.App()
	uid := uuid.NewString()
	call(t, app, fiber.MethodPost, "/user/register", uid,
		`{"user_id":"`+uid+`","os":"iOS","device_model":"iPhone","time_zone":"+01:00","app_ver":"1.0"}`)

	payload := `{"tx_hash":"abc","to_address":"EQ-friend","amount":50,"type":"p2p","id":"x"}`
	status, body := call(t, app, fiber.MethodPost, "/user/transaction/report", uid, payload)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "inserted", body["outcome"])

	status, body = call(t, app, fiber.MethodPost, "/user/transaction/report", uid, payload)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "duplicate", body["outcome"])

	status, body = call(t, app, fiber.MethodGet, "/internal/transactions/totals", "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 50, body["from_public"])
}

func TestCallbackAlwaysAcks(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := call(t, srv.App(), fiber.MethodPost, "/payments/callback", "",
		`{"object":"payment","state":"success","value":{"id":"1-tpc-tunknown","transaction_id":"h","amount":5}}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = call(t, srv.App(), fiber.MethodPost, "/payments/callback", "", `not json`)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestUserRoutesRequireUserID(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := call(t, srv.App(), fiber.MethodGet, "/user/transactions", "", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "error", body["status"])
}

func TestValidationErrorsCarryReason(t *testing.T) {
	srv, _ := newTestServer(t)
	uid := uuid.NewString()
	status, body := call(t, srv.App(), fiber.MethodPost, "/user/register", uid, `{"user_id":"nope","os":"android"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.NotEmpty(t, body["reason"])
}
