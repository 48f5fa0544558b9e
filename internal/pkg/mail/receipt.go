package mail

import "fmt"

// SendReceipt emails a plain-text purchase receipt after a successful
// top-up. Failures are logged by SendMail and never fail the webhook.
func SendReceipt(to, transactionID string, tokens int, amount int64, currency string) error {
	subject := fmt.Sprintf("Receipt #%s - Yum-Mi Tokens Purchase", transactionID)
	body := fmt.Sprintf(`Hi there,

We're excited to welcome you to Yum-Mi - thanks so much for your recent order on yum-mi.com!

Transaction: %s
Tokens: %d
Amount: %.2f %s

If you run into any issues, have questions about your token usage, or need guidance, our support team is just an email away at support@yum-mi.com.

With appreciation,
The Yum-Mi Team
`, transactionID, tokens, float64(amount)/100, currency)

	return SendMail(to, subject, body)
}
