package controllers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/yum-mi/tokenledger/internal/pkg/database"
	"github.com/yum-mi/tokenledger/internal/pkg/env"
	"github.com/yum-mi/tokenledger/internal/pkg/ledger"
)

type identityEvent struct {
	Type string `json:"type"`
	Data struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"data"`
}

// HandleIdentityWebhook mirrors account lifecycle events from the identity
// provider into the credit ledger: user.created provisions an account with
// the signup bonus, user.updated refreshes profile fields, user.deleted
// removes the account. Unknown event types are acknowledged and ignored.
func HandleIdentityWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("IDENTITY_WEBHOOK_SECRET", "")
	if secret == "" {
		log.Print("identity webhook: IDENTITY_WEBHOOK_SECRET not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_configuration_error"})
	}
	provided := strings.TrimSpace(c.Get("X-Webhook-Secret"))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var event identityEvent
	if err := json.Unmarshal(c.BodyRaw(), &event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if event.Data.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_user_id"})
	}

	svc := ledger.NewServiceFromDB(database.GetDB(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch event.Type {
	case "user.created":
		user, created, err := svc.ProvisionUser(ctx, event.Data.ID, event.Data.Email, event.Data.FirstName, event.Data.LastName)
		if err != nil {
			// 5xx so the provider redelivers
			log.Printf("identity webhook: provisioning %s failed: %v", event.Data.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "provisioning_failed"})
		}
		log.Printf("identity webhook: user %s provisioned=%t balance=%d", user.ExternalID, created, user.AvailableTokens)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "created": created})

	case "user.updated":
		if _, err := svc.UpdateUserProfile(ctx, event.Data.ID, event.Data.Email, event.Data.FirstName, event.Data.LastName); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// update for an account we never provisioned; nothing to do
				return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
			}
			log.Printf("identity webhook: update %s failed: %v", event.Data.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "update_failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})

	case "user.deleted":
		if err := svc.RemoveUser(ctx, event.Data.ID); err != nil {
			log.Printf("identity webhook: delete %s failed: %v", event.Data.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "deletion_failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})

	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
}
