package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yum-mi/tokenledger/internal/pkg/cache"
	"github.com/yum-mi/tokenledger/internal/pkg/database"
	"github.com/yum-mi/tokenledger/internal/pkg/metrics/counter"
)

// HandleHealthcheckDB pings the database.
func HandleHealthcheckDB(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": "database not initialized"})
	}
	sqlDB, err := db.DB()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": err.Error()})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Printf("db healthcheck failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// HandleHealthcheckCache pings redis and, when reachable, includes the
// webhook counter snapshot.
func HandleHealthcheckCache(c *fiber.Ctx) error {
	if !cache.IsEnabled() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "disabled"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.GetClient().Ping(ctx).Err(); err != nil {
		log.Printf("cache healthcheck failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "error": err.Error()})
	}
	counters, err := counter.Snapshot()
	if err != nil {
		log.Printf("counter snapshot failed: %v", err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok", "counters": counters})
}
