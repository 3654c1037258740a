package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/app/models"
	"github.com/quotagate/quotagate/app/repository/memory"
	"github.com/quotagate/quotagate/internal/pkg/entitlements"
)

func newAdminTestApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.SeedPlan(models.Plan{Code: "pro", ProductID: "api", UsageLimit: 100, IsActive: true})

	svc := entitlements.NewService(store, nil, nil)
	ac := NewAdminController(svc, nil)

	app := fiber.New()
	app.Post("/internal/v1/grants", ac.HandleGrant)
	app.Post("/internal/v1/revocations", ac.HandleRevoke)
	return app, store
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHandleGrant(t *testing.T) {
	app, store := newAdminTestApp(t)

	t.Run("grant against known plan", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/grants",
			`{"user_id": 42, "plan_code": "pro", "actor": "admin@example.com", "reason": "support ticket 118"}`)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "api", body["product_id"])
		assert.Equal(t, models.EntitlementStatusActive, body["status"])

		audits := store.AuditEntries()
		require.Len(t, audits, 1)
		assert.Equal(t, models.AuditActionGrant, audits[0].Action)
		assert.Equal(t, "admin@example.com", audits[0].Actor)
	})

	t.Run("unknown plan is 422", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/grants",
			`{"user_id": 42, "plan_code": "enterprise", "actor": "admin"}`)
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "unknown_plan", decodeBody(t, resp)["error"])
	})

	t.Run("missing required fields is 400", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/grants", `{"plan_code": "pro"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandleRevoke(t *testing.T) {
	app, store := newAdminTestApp(t)

	resp := postJSON(t, app, "/internal/v1/grants",
		`{"user_id": 42, "plan_code": "pro", "actor": "admin", "reason": "onboarding"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	t.Run("revoke active entitlement", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/revocations",
			`{"user_id": 42, "product_id": "api", "actor": "admin", "reason": "chargeback"}`)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		ents := store.Entitlements()
		require.Len(t, ents, 1)
		assert.Equal(t, models.EntitlementStatusSuspended, ents[0].Status)
	})

	t.Run("second revoke is 404", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/revocations",
			`{"user_id": 42, "product_id": "api", "actor": "admin", "reason": "chargeback"}`)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("validation rejects empty reason", func(t *testing.T) {
		resp := postJSON(t, app, "/internal/v1/revocations",
			`{"user_id": 42, "product_id": "api", "actor": "admin"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}
