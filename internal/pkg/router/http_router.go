package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/yum-mi/tokenledger/app/controllers"
	"github.com/yum-mi/tokenledger/internal/pkg/constants"
)

type HttpRouter struct {
}

// InstallRouter registers the unauthenticated surface: the webhook
// receivers and the healthchecks. Webhooks authenticate per request
// (HMAC signature, shared secret) and must never sit behind the API
// key middleware.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhook)
	app.Get(constants.PaymentWebhookRoute, controllers.HandlePaymentWebhookStatus)
	app.Post(constants.IdentityWebhookRoute, controllers.HandleIdentityWebhook)

	app.Get(constants.HealthcheckDBRoute, controllers.HandleHealthcheckDB)
	app.Get(constants.HealthcheckCacheRoute, controllers.HandleHealthcheckCache)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
