package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/yum-mi/tokenledger/app/controllers"
	"github.com/yum-mi/tokenledger/internal/pkg/middleware"
)

type ApiRouter struct {
}

// InstallRouter registers the API-key-authenticated client routes.
// Balance verification is a polling endpoint, so the limiter is
// sized for short-interval polling rather than bulk traffic.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api/payment", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}), middleware.APIKeyAuthMiddleware())

	api.Get("/verify-balance", controllers.HandleVerifyBalance)
	api.Get("/history", controllers.HandlePaymentHistory)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
