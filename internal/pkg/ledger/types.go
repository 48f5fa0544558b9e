package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yum-mi/tokenledger/app/models"
)

var (
	// ErrInvalidSignature is returned when the computed HMAC does not match
	// the signature carried by the request. The idempotency store is never
	// touched for these requests.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when required fields are missing or the
	// description does not yield a credit quantity for a crediting status.
	// A corrected resubmission for the same uid must process normally.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrMissingSecret is returned when no shared secret is configured.
	ErrMissingSecret = errors.New("webhook secret not configured")
)

// Notification is the typed, validated form of a gateway notification.
// Parsing is separate from signature canonicalization, which operates on
// the untyped payload map.
type Notification struct {
	UID               string
	Status            string
	TrackingID        string
	Amount            int64
	Currency          string
	Description       string
	Tokens            int
	Type              string
	PaymentMethodType string
	Message           string
	PaidAt            *time.Time
	CustomerEmail     string
	Test              bool
	Raw               []byte
}

type wireCustomer struct {
	Email string `json:"email"`
	IP    string `json:"ip"`
}

type wirePayload struct {
	UID               string          `json:"uid"`
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	TrackingID        string          `json:"tracking_id"`
	Amount            json.RawMessage `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
	Type              string          `json:"type"`
	PaymentMethodType string          `json:"payment_method_type"`
	Message           string          `json:"message"`
	PaidAt            string          `json:"paid_at"`
	Test              bool            `json:"test"`
	Signature         string          `json:"signature"`
	Customer          *wireCustomer   `json:"customer"`
}

type wireEnvelope struct {
	Transaction *wirePayload `json:"transaction"`
	Signature   string       `json:"signature"`
}

// NormalizeStatus maps gateway status aliases onto the canonical lifecycle.
func NormalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "completed":
		return models.TransactionStatusSuccessful
	case "failed", "declined":
		return models.TransactionStatusFailed
	case "pending", "processing":
		return models.TransactionStatusPending
	case "canceled", "cancelled":
		return models.TransactionStatusCanceled
	case "refunded":
		return models.TransactionStatusRefunded
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}

// IsCreditingStatus reports whether a status requires a parseable token
// quantity in the description.
func IsCreditingStatus(status string) bool {
	return status == models.TransactionStatusSuccessful || status == models.TransactionStatusRefunded
}

// ParseNotification builds a validated Notification from a raw body. The
// gateway delivers either a flat payment object or one nested under
// "transaction".
func ParseNotification(raw []byte) (*Notification, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	wire := env.Transaction
	if wire == nil {
		wire = &wirePayload{}
		if err := json.Unmarshal(raw, wire); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	uid := strings.TrimSpace(wire.UID)
	if uid == "" {
		uid = strings.TrimSpace(wire.ID)
	}
	if uid == "" {
		return nil, fmt.Errorf("%w: missing transaction uid", ErrInvalidPayload)
	}

	status := NormalizeStatus(wire.Status)
	if status == "" {
		return nil, fmt.Errorf("%w: missing status", ErrInvalidPayload)
	}

	trackingID := strings.TrimSpace(wire.TrackingID)
	if trackingID == "" {
		return nil, fmt.Errorf("%w: missing tracking_id", ErrInvalidPayload)
	}

	n := &Notification{
		UID:               uid,
		Status:            status,
		TrackingID:        trackingID,
		Currency:          strings.ToUpper(strings.TrimSpace(wire.Currency)),
		Description:       wire.Description,
		Type:              wire.Type,
		PaymentMethodType: wire.PaymentMethodType,
		Message:           wire.Message,
		Test:              wire.Test,
		Raw:               append([]byte(nil), raw...),
	}
	if n.Currency == "" {
		n.Currency = "USD"
	}
	if n.Type == "" {
		n.Type = models.TransactionTypePayment
	}
	if n.PaymentMethodType == "" {
		n.PaymentMethodType = "card"
	}
	if wire.Customer != nil {
		n.CustomerEmail = strings.TrimSpace(wire.Customer.Email)
	}

	if len(wire.Amount) > 0 && !bytes.Equal(wire.Amount, []byte("null")) {
		amount, err := NormalizeRawAmount(wire.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: bad amount: %v", ErrInvalidPayload, err)
		}
		n.Amount = amount
	}

	if wire.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, wire.PaidAt); err == nil {
			n.PaidAt = &t
		}
	}

	if IsCreditingStatus(status) {
		tokens, ok := ExtractTokens(n.Description)
		if !ok {
			return nil, fmt.Errorf("%w: cannot extract token count from description %q", ErrInvalidPayload, n.Description)
		}
		n.Tokens = tokens
	}

	return n, nil
}

// EventID derives the idempotency key for this delivery. The uid alone is
// not unique across a transaction's lifecycle, so status and paid_at are
// folded in.
func (n *Notification) EventID() string {
	paidAt := ""
	if n.PaidAt != nil {
		paidAt = n.PaidAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s:%s:%s", n.UID, n.Status, paidAt)
}

// PaidAtOrNow returns the gateway settlement timestamp, falling back to the
// current time.
func (n *Notification) PaidAtOrNow() time.Time {
	if n.PaidAt != nil {
		return *n.PaidAt
	}
	return time.Now()
}
