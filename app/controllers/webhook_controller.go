package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/quotagate/quotagate/internal/pkg/webhook"
)

const webhookProcessingTimeout = 15 * time.Second

// WebhookController ingests signed provider events.
type WebhookController struct {
	processor *webhook.Processor
	secret    string
}

// NewWebhookController wires the ingestion endpoint.
func NewWebhookController(processor *webhook.Processor, secret string) *WebhookController {
	return &WebhookController{processor: processor, secret: secret}
}

// HandlePaymentWebhook verifies authenticity, then runs the idempotent
// processing pipeline. Only a handler failure returns a retryable status;
// duplicates and unknown types are acknowledged.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("X-Payment-Signature")

	if err := webhook.VerifySignature(rawBody, signature, wc.secret, webhook.DefaultTolerance, time.Now()); err != nil {
		log.Warnf("[webhook] rejected payload: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	evt, err := webhook.ParseEvent(rawBody)
	if err != nil {
		if errors.Is(err, webhook.ErrEnvelopeInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_envelope"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookProcessingTimeout)
	defer cancel()

	res, err := wc.processor.Process(ctx, evt)
	if err != nil {
		// The transaction rolled back in full; tell the provider to retry.
		log.Errorf("[webhook] processing event %s failed: %v", evt.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}
	if res.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if res.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
