package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository/memory"
	"github.com/quotagate/quotagate/internal/pkg/webhook"
)

const testWebhookSecret = "whsec_test"

func newWebhookTestApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.SeedPlan(models.Plan{Code: "pro", ProductID: "api", UsageLimit: 1000, IsActive: true})
	store.SeedMapping(models.PlanMapping{
		Provider:         models.ProviderStripe,
		ProviderPriceRef: "price_pro_m",
		BillingInterval:  models.BillingIntervalMonth,
		PlanCode:         "pro",
		IsActive:         true,
	})

	processor := webhook.NewProcessor(store, nil, models.ProviderStripe)
	wc := NewWebhookController(processor, testWebhookSecret)

	app := fiber.New()
	app.Post("/webhook/payments", wc.HandlePaymentWebhook)
	return app, store
}

func signedWebhookRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Payment-Signature", webhook.SignPayload(body, testWebhookSecret, time.Now()))
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHandlePaymentWebhook(t *testing.T) {
	app, store := newWebhookTestApp(t)

	body := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"customer": "cus_123",
			"subscription": "sub_abc",
			"metadata": {"user_id": "42"}
		}}
	}`)

	resp, err := app.Test(signedWebhookRequest(t, body))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["ok"])

	require.Len(t, store.Customers(), 1)
	require.Len(t, store.Subscriptions(), 1)

	// Redelivery acknowledges without reprocessing.
	resp, err = app.Test(signedWebhookRequest(t, body))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["duplicate"])
	assert.Len(t, store.ProcessedEvents(), 1)
}

func TestHandlePaymentWebhookRejectsBadSignature(t *testing.T) {
	app, store := newWebhookTestApp(t)

	body := []byte(`{"id": "evt_1", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`)

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("signature over different body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
		req.Header.Set("X-Payment-Signature", webhook.SignPayload([]byte("other"), testWebhookSecret, time.Now()))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("stale signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhook/payments", bytes.NewReader(body))
		req.Header.Set("X-Payment-Signature", webhook.SignPayload(body, testWebhookSecret, time.Now().Add(-time.Hour)))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	assert.Empty(t, store.ProcessedEvents(), "rejected payloads must not be recorded")
}

func TestHandlePaymentWebhookRejectsInvalidEnvelope(t *testing.T) {
	app, _ := newWebhookTestApp(t)

	resp, err := app.Test(signedWebhookRequest(t, []byte(`{"type": "invoice.paid"}`)))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_envelope", decodeBody(t, resp)["error"])
}

func TestHandlePaymentWebhookAcknowledgesUnknownType(t *testing.T) {
	app, store := newWebhookTestApp(t)

	body := []byte(`{"id": "evt_x", "type": "charge.refunded", "data": {"object": {}}}`)
	resp, err := app.Test(signedWebhookRequest(t, body))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["ignored"])
	assert.Len(t, store.ProcessedEvents(), 1)
}
