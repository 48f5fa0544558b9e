package repository

import (
	"github.com/yum-mi/tokenledger/app/models"
	"gorm.io/gorm"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// GetByUID retrieves a transaction by the gateway-assigned uid
func (r *transactionRepository) GetByUID(uid string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.Where("uid = ?", uid).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByUserExternalID returns a user's payment history, newest first
func (r *transactionRepository) ListByUserExternalID(externalID string, offset, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.Where("user_external_id = ?", externalID).
		Order("paid_at DESC").
		Offset(offset).Limit(limit).
		Find(&txns).Error
	return txns, err
}

// CountByStatus returns how many transactions carry the given status
func (r *transactionRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Transaction{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
