package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// SignupBonusTokens is the token balance a freshly provisioned account
// starts with.
const SignupBonusTokens = 10

// User is a credit account keyed by the identity provider's stable user id.
// The token balance is mutated only by the webhook processor, the
// reconciliation importer, or generation-consumption code.
type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ExternalID      string         `gorm:"type:varchar(191);uniqueIndex" json:"external_id" validate:"required,min=3,max=191"`
	Email           string         `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	FirstName       string         `gorm:"type:varchar(150);default:null" json:"first_name" validate:"max=150"`
	LastName        string         `gorm:"type:varchar(150);default:null" json:"last_name" validate:"max=150"`
	Status          string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	AvailableTokens int            `gorm:"not null;default:0" json:"available_tokens"`
	UsedTokens      int            `gorm:"not null;default:0" json:"used_tokens"`
	APIKeyHash      string         `gorm:"type:varchar(64);default:'';index" json:"-"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// SpendableTokens is the credit quantity the user may still consume.
func (u *User) SpendableTokens() int {
	s := u.AvailableTokens - u.UsedTokens
	if s < 0 {
		return 0
	}
	return s
}

// NewUser builds an account seeded with the signup bonus.
func NewUser(externalID, email, firstName, lastName string) (*User, error) {
	u := &User{
		ExternalID:      externalID,
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		Status:          STATUS_ACTIVE,
		AvailableTokens: SignupBonusTokens,
		UsedTokens:      0,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// HashAPIKey returns the hex SHA-256 digest stored for API key lookups.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
