package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/quotagate/quotagate/internal/pkg/entitlements"
	"github.com/quotagate/quotagate/internal/pkg/metrics/counter"
)

// AdminController exposes the internal grant/revoke surface. It is never
// mounted for end-user callers.
type AdminController struct {
	svc      *entitlements.Service
	counter  *counter.Counter
	validate *validator.Validate
}

// NewAdminController wires the internal entitlement administration endpoints.
// ctr may be nil; the stats endpoint then reports empty tallies.
func NewAdminController(svc *entitlements.Service, ctr *counter.Counter) *AdminController {
	return &AdminController{svc: svc, counter: ctr, validate: validator.New()}
}

// GrantRequest creates or reactivates an entitlement with an explicit plan.
type GrantRequest struct {
	UserID     uint           `json:"user_id" validate:"required,gt=0"`
	ProductID  string         `json:"product_id" validate:"omitempty,max=100"`
	PlanCode   string         `json:"plan_code" validate:"required,max=50"`
	UsageLimit *int64         `json:"usage_limit" validate:"omitempty,gte=0"`
	SoftLimit  *int64         `json:"soft_limit" validate:"omitempty,gte=0"`
	Features   map[string]any `json:"features"`
	ValidUntil *time.Time     `json:"valid_until"`
	Actor      string         `json:"actor" validate:"required,max=100"`
	Reason     string         `json:"reason" validate:"omitempty,max=500"`
}

// RevokeRequest suspends an active entitlement.
type RevokeRequest struct {
	UserID    uint   `json:"user_id" validate:"required,gt=0"`
	ProductID string `json:"product_id" validate:"required,max=100"`
	Actor     string `json:"actor" validate:"required,max=100"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// HandleGrant creates/activates an entitlement.
func (ac *AdminController) HandleGrant(c *fiber.Ctx) error {
	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	info, err := ac.svc.Grant(c.UserContext(), entitlements.GrantInput{
		UserID:     req.UserID,
		ProductID:  req.ProductID,
		PlanCode:   req.PlanCode,
		UsageLimit: req.UsageLimit,
		SoftLimit:  req.SoftLimit,
		Features:   req.Features,
		ValidUntil: req.ValidUntil,
		Actor:      req.Actor,
		Reason:     req.Reason,
	})
	if err != nil {
		if errors.Is(err, entitlements.ErrUnknownPlan) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unknown_plan"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(info)
}

// HandleRevoke suspends an entitlement. A missing active entitlement is a
// 404: the operation's success is meaningful to the administrative caller.
func (ac *AdminController) HandleRevoke(c *fiber.Ctx) error {
	var req RevokeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := ac.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	if err := ac.svc.Revoke(c.UserContext(), req.UserID, req.ProductID, req.Actor, req.Reason); err != nil {
		if errors.Is(err, entitlements.ErrNotEntitled) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active entitlement for user and product"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleStats reports the operational counters (processed events per type,
// recorded usage per product).
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	stats, err := ac.counter.Snapshot(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.Status(fiber.StatusOK).JSON(stats)
}
