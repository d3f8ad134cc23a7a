package settlement

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/logging"
)

func postCallback(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/payments/callback", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestCallback_NonSuccessStatesFailThePayment(t *testing.T) {
	for _, state := range []string{"failure", "failed", "fail", "error", "FAILED", ""} {
		t.Run("state="+state, func(t *testing.T) {
			f := newCorrelatorFixture()
			ctx := context.Background()
			f.submitted(t, "m-fail", true)

			app := fiber.New()
			app.Post("/payments/callback", NewHandler(f.correlator, nil, logging.Discard()).Callback)

			status := postCallback(t, app, `{"action":"send","object":"payment","state":"`+state+`","value":{"id":"m-fail","transaction_id":"h-1","amount":500}}`)
			assert.Equal(t, fiber.StatusOK, status)

			_, ok, _ := f.memos.Get(ctx, "m-fail", false)
			assert.False(t, ok)
			_, err := f.locker.TryAcquire(ctx, LockName("user-1", "item-9"), time.Minute)
			assert.NoError(t, err, "payout lock must be released")

			entries, err := f.ledger.ListForIdentity(ctx, "user-1", 10)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestCallback_SuccessIsCaseInsensitive(t *testing.T) {
	f := newCorrelatorFixture()
	ctx := context.Background()
	f.submitted(t, "m-ok", true)

	app := fiber.New()
	app.Post("/payments/callback", NewHandler(f.correlator, nil, logging.Discard()).Callback)

	status := postCallback(t, app, `{"action":"send","object":"payment","state":"Success","timestamp":1767225600,"value":{"id":"m-ok","transaction_id":"h-2","amount":500}}`)
	assert.Equal(t, fiber.StatusOK, status)

	entries, err := f.ledger.ListForIdentity(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h-2", entries[0].TxHash)
}

func TestStatusFromState(t *testing.T) {
	assert.Equal(t, StatusSuccess, statusFromState(" success "))
	assert.Equal(t, StatusFailure, statusFromState("pending"))
}
