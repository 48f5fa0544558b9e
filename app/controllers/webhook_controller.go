package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/yum-mi/tokenledger/internal/pkg/cache"
	"github.com/yum-mi/tokenledger/internal/pkg/database"
	"github.com/yum-mi/tokenledger/internal/pkg/env"
	"github.com/yum-mi/tokenledger/internal/pkg/ledger"
	"github.com/yum-mi/tokenledger/internal/pkg/mail"
	"github.com/yum-mi/tokenledger/internal/pkg/metrics/counter"
)

// HandlePaymentWebhook receives asynchronous payment-gateway notifications,
// verifies them and runs them through the ledger state machine. The gateway
// delivers at least once; duplicates are answered with idempotent: true.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	requestID := uuid.NewString()
	signature := strings.TrimSpace(c.Get("X-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	svc := ledger.NewServiceFromDB(database.GetDB(), secret)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := svc.ProcessWebhook(ctx, rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrMissingSecret):
			log.Printf("webhook %s: PAYMENT_WEBHOOK_SECRET not configured", requestID)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_configuration_error"})
		case errors.Is(err, ledger.ErrInvalidSignature):
			log.Printf("webhook %s: invalid signature", requestID)
			bumpRejected("invalid_signature")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, ledger.ErrInvalidPayload):
			log.Printf("webhook %s: invalid payload: %v", requestID, err)
			bumpRejected("invalid_payload")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			log.Printf("webhook %s: processing failed: %v", requestID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}

	log.Printf("webhook %s: uid=%s status=%s idempotent=%t credited=%t", requestID, result.UID, result.Status, result.Idempotent, result.Credited)

	if result.Idempotent {
		bumpDuplicate()
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"ok":         true,
			"idempotent": true,
			"uid":        result.UID,
		})
	}
	if result.Ignored {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	// post-commit, best-effort side effects
	bumpProcessed(result.Status)
	if result.Credited || result.Debited {
		invalidateBalanceCache(result)
	}
	if result.Credited {
		bumpCredited(result.Tokens)
		sendReceiptEmail(result)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":       true,
		"uid":      result.UID,
		"status":   result.Status,
		"credited": result.Credited,
	})
}

// HandlePaymentWebhookStatus answers gateway liveness probes.
func HandlePaymentWebhookStatus(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":   "Payment webhook endpoint is active",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func invalidateBalanceCache(result *ledger.ProcessResult) {
	if !cache.IsEnabled() {
		return
	}
	if err := cache.Delete(balanceCacheKey(result.TrackingID)); err != nil {
		log.Printf("failed to invalidate balance cache for user %s: %v", result.TrackingID, err)
	}
}

func sendReceiptEmail(result *ledger.ProcessResult) {
	if result.CustomerEmail == "" {
		return
	}
	shortID := result.UID
	if len(shortID) > 8 {
		shortID = shortID[len(shortID)-8:]
	}
	if err := mail.SendReceipt(result.CustomerEmail, shortID, result.Tokens, result.Amount, result.Currency); err != nil {
		// receipt failure never fails the webhook
		log.Printf("receipt email for uid %s failed: %v", result.UID, err)
	}
}

func bumpProcessed(status string) {
	if !cache.IsEnabled() {
		return
	}
	if err := counter.AddProcessed(status); err != nil {
		log.Printf("counter update failed: %v", err)
	}
}

func bumpCredited(tokens int) {
	if !cache.IsEnabled() {
		return
	}
	if err := counter.AddCredited(tokens); err != nil {
		log.Printf("counter update failed: %v", err)
	}
}

func bumpRejected(kind string) {
	if !cache.IsEnabled() {
		return
	}
	if err := counter.AddRejected(kind); err != nil {
		log.Printf("counter update failed: %v", err)
	}
}

func bumpDuplicate() {
	if !cache.IsEnabled() {
		return
	}
	if err := counter.AddDuplicate(); err != nil {
		log.Printf("counter update failed: %v", err)
	}
}
