package repository

import (
	"github.com/yum-mi/tokenledger/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for account-related database
// operations used outside the ledger's unit-of-work (middleware, health,
// admin tooling).
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	Count() (int64, error)
}

// TransactionRepository provides read access to the transaction ledger for
// reporting surfaces. Mutations go exclusively through the ledger service.
type TransactionRepository interface {
	GetByUID(uid string) (*models.Transaction, error)
	ListByUserExternalID(externalID string, offset, limit int) ([]models.Transaction, error)
	CountByStatus(status string) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User        UserRepository
	Transaction TransactionRepository
}

// NewRepositories creates all repository instances with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Transaction: NewTransactionRepository(db),
	}
}
