package models

import "time"

// Transaction status lifecycle as reported by the payment gateway.
const (
	TransactionStatusPending    = "pending"
	TransactionStatusSuccessful = "successful"
	TransactionStatusFailed     = "failed"
	TransactionStatusCanceled   = "canceled"
	TransactionStatusRefunded   = "refunded"
)

const (
	TransactionTypePayment = "payment"
	TransactionTypeRefund  = "refund"
)

// Transaction mirrors one gateway transaction. The gateway-assigned UID is
// the idempotency key: at most one row exists per UID, and later
// notifications for the same UID update this row in place.
type Transaction struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UID               string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_transactions_uid" json:"uid"`
	UserExternalID    string     `gorm:"type:varchar(191);not null;index" json:"user_external_id"`
	Status            string     `gorm:"type:varchar(32);not null;index" json:"status"`
	Amount            int64      `gorm:"not null;default:0" json:"amount"`
	Currency          string     `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	Description       string     `gorm:"type:text" json:"description"`
	PaymentType       string     `gorm:"type:varchar(32);not null;default:'payment'" json:"payment_type"`
	PaymentMethodType string     `gorm:"type:varchar(32);not null;default:'card'" json:"payment_method_type"`
	Message           string     `gorm:"type:varchar(255);default:''" json:"message"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFinalSuccessful reports whether this row already credited the account.
func (t *Transaction) IsFinalSuccessful() bool {
	return t.Status == TransactionStatusSuccessful
}
