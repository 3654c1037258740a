package controllers

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/quotagate/quotagate/internal/pkg/entitlements"
)

// EntitlementController serves entitlement queries and usage recording.
type EntitlementController struct {
	svc      *entitlements.Service
	validate *validator.Validate
}

// NewEntitlementController wires the client-facing entitlement endpoints.
func NewEntitlementController(svc *entitlements.Service) *EntitlementController {
	return &EntitlementController{svc: svc, validate: validator.New()}
}

// UsageRequest is the usage-recording body. Amounts are strictly additive.
type UsageRequest struct {
	Amount    int64          `json:"amount" validate:"required,gt=0"`
	UsageType string         `json:"usage_type" validate:"omitempty,max=100"`
	Metadata  map[string]any `json:"metadata"`
}

// HandleGetEntitlement returns the entitlement snapshot. A missing or
// non-active entitlement is a 404, deliberately distinct from an entitled
// user whose quota is exhausted.
func (ec *EntitlementController) HandleGetEntitlement(c *fiber.Ctx) error {
	userID, productID, ok := parseEntitlementParams(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user or product reference"})
	}

	info, err := ec.svc.Get(c.UserContext(), userID, productID)
	if err != nil {
		if errors.Is(err, entitlements.ErrNotEntitled) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_entitled"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(info)
}

// HandleRecordUsage increments the usage counter and returns the fresh
// snapshot.
func (ec *EntitlementController) HandleRecordUsage(c *fiber.Ctx) error {
	userID, productID, ok := parseEntitlementParams(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user or product reference"})
	}

	var req UsageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := ec.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	info, err := ec.svc.RecordUsage(c.UserContext(), userID, productID, req.Amount, req.UsageType, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, entitlements.ErrNotEntitled):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_entitled"})
		case errors.Is(err, entitlements.ErrInvalidAmount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Amount must be positive"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}
	return c.Status(fiber.StatusOK).JSON(info)
}

// HandleListSubscriptions returns the user's subscription rows so client
// backends can render billing state alongside entitlements.
func (ec *EntitlementController) HandleListSubscriptions(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user reference"})
	}

	subs, err := ec.svc.Subscriptions(c.UserContext(), uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"subscriptions": subs})
}

func parseEntitlementParams(c *fiber.Ctx) (uint, string, bool) {
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return 0, "", false
	}
	productID := c.Params("product_id")
	if productID == "" {
		return 0, "", false
	}
	return uint(userID), productID, true
}
