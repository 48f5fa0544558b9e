package ledger

import (
	"time"

	"github.com/yum-mi/tokenledger/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the ledger service. Inside
// WithinTransaction every method runs on the same database transaction, so
// the webhook event, transaction row and balance mutation commit or roll
// back together.
type Repository interface {
	WithinTransaction(fn func(Repository) error) error

	InsertWebhookEventIfNew(event *models.WebhookEvent) (bool, error)
	MarkWebhookProcessed(eventID string) error

	GetTransactionForUpdate(uid string) (*models.Transaction, error)
	GetTransactionByUID(uid string) (*models.Transaction, error)
	GetSuccessfulTransaction(userExternalID, uid string) (*models.Transaction, error)
	CreateTransaction(t *models.Transaction) error
	SaveTransaction(t *models.Transaction) error

	GetUserByExternalID(externalID string) (*models.User, error)
	GetUserForUpdate(externalID string) (*models.User, error)
	GetUserByAPIKeyHash(hash string) (*models.User, error)
	CreateUser(u *models.User) error
	SaveUser(u *models.User) error
	UpdateUserBalance(externalID string, available, used int) error
	DeleteUserByExternalID(externalID string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithinTransaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// forUpdate adds SELECT ... FOR UPDATE semantics. SQLite (used by the test
// suite) serializes writers on its own and rejects the clause.
func (r *gormRepository) forUpdate() *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return r.db
	}
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) InsertWebhookEventIfNew(event *models.WebhookEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkWebhookProcessed(eventID string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
		}).Error
}

func (r *gormRepository) GetTransactionForUpdate(uid string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.forUpdate().Where("uid = ?", uid).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetTransactionByUID(uid string) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.Where("uid = ?", uid).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) GetSuccessfulTransaction(userExternalID, uid string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.
		Where("uid = ? AND user_external_id = ? AND status = ?", uid, userExternalID, models.TransactionStatusSuccessful).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) CreateTransaction(t *models.Transaction) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) SaveTransaction(t *models.Transaction) error {
	return r.db.Save(t).Error
}

func (r *gormRepository) GetUserByExternalID(externalID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserForUpdate(externalID string) (*models.User, error) {
	var u models.User
	if err := r.forUpdate().Where("external_id = ?", externalID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByAPIKeyHash(hash string) (*models.User, error) {
	var u models.User
	err := r.db.Where("api_key_hash = ? AND api_key_hash <> ''", hash).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) CreateUser(u *models.User) error {
	return r.db.Create(u).Error
}

func (r *gormRepository) SaveUser(u *models.User) error {
	return r.db.Save(u).Error
}

func (r *gormRepository) UpdateUserBalance(externalID string, available, used int) error {
	return r.db.Model(&models.User{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"available_tokens": available,
			"used_tokens":      used,
		}).Error
}

func (r *gormRepository) DeleteUserByExternalID(externalID string) error {
	return r.db.Where("external_id = ?", externalID).Delete(&models.User{}).Error
}
