package controllers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yum-mi/tokenledger/app/models"
	"github.com/yum-mi/tokenledger/app/repository"
	"github.com/yum-mi/tokenledger/internal/pkg/cache"
	"github.com/yum-mi/tokenledger/internal/pkg/database"
	"github.com/yum-mi/tokenledger/internal/pkg/env"
	"github.com/yum-mi/tokenledger/internal/pkg/ledger"
)

// UserContextKey is the fiber.Ctx locals key under which the API key
// middleware stores the authenticated *models.User.
const UserContextKey = "API_USER"

const balanceCacheTTL = 30 * time.Second

func balanceCacheKey(externalID string) string {
	return "user:balance:" + externalID
}

func authenticatedUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(UserContextKey).(*models.User)
	return user
}

// HandleVerifyBalance lets a client poll whether an asynchronous payment has
// been credited yet. With ?transactionId= it checks for that successful
// transaction; with ?expectedMinBalance= it checks the available balance
// against a threshold; with neither it just reports the current balance.
func HandleVerifyBalance(c *fiber.Ctx) error {
	user := authenticatedUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	transactionID := c.Query("transactionId")
	expectedMinBalance := 0
	if raw := c.Query("expectedMinBalance"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_expected_min_balance"})
		}
		expectedMinBalance = v
	}

	// The plain balance query is the hot polling path; serve it from cache.
	if transactionID == "" && expectedMinBalance == 0 && cache.IsEnabled() {
		if balance, err := cache.GetInt(balanceCacheKey(user.ExternalID)); err == nil {
			return c.Status(fiber.StatusOK).JSON(ledger.BalanceStatus{
				Success:        true,
				CurrentBalance: balance,
			})
		}
	}

	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")
	svc := ledger.NewServiceFromDB(database.GetDB(), secret)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := svc.VerifyBalance(ctx, user.ExternalID, transactionID, expectedMinBalance)
	if err != nil {
		log.Printf("verify-balance for user %s failed: %v", user.ExternalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "balance_verification_failed"})
	}

	if transactionID == "" && expectedMinBalance == 0 && cache.IsEnabled() {
		if err := cache.Set(balanceCacheKey(user.ExternalID), status.CurrentBalance, balanceCacheTTL); err != nil {
			log.Printf("failed to cache balance for user %s: %v", user.ExternalID, err)
		}
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

// HandlePaymentHistory returns the account's ledger transactions, newest
// first. Supports ?page= and ?limit= (default 20, capped at 100).
func HandlePaymentHistory(c *fiber.Ctx) error {
	user := authenticatedUser(c)
	if user == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	repo := repository.GetGlobalFactory().GetTransactionRepository()
	transactions, err := repo.ListByUserExternalID(user.ExternalID, (page-1)*limit, limit)
	if err != nil {
		log.Printf("payment history for user %s failed: %v", user.ExternalID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_history_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"page":         page,
		"limit":        limit,
		"transactions": transactions,
	})
}
