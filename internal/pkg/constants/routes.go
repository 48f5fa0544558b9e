package constants

// Route constants shared between the router and controllers
const (
	APIRoute              = "/api"
	PaymentWebhookRoute   = "/api/webhooks/payment"
	IdentityWebhookRoute  = "/api/webhooks/identity"
	VerifyBalanceRoute    = "/api/payment/verify-balance"
	PaymentHistoryRoute   = "/api/payment/history"
	HealthcheckDBRoute    = "/api/healthcheck/db"
	HealthcheckCacheRoute = "/api/healthcheck/cache"
)
