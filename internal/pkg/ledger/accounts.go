package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/yum-mi/tokenledger/app/models"
	"gorm.io/gorm"
)

// BalanceStatus answers the client-side polling question "has my payment
// landed yet". It is always a yes/no, never an error: the client keeps
// polling and applies its own timeout.
type BalanceStatus struct {
	Success            bool                `json:"success"`
	BalanceUpdated     bool                `json:"balanceUpdated"`
	CurrentBalance     int                 `json:"currentBalance"`
	ExpectedMinBalance int                 `json:"expectedMinBalance,omitempty"`
	Transaction        *models.Transaction `json:"transaction,omitempty"`
}

// VerifyBalance checks whether the ledger reflects a successful transaction
// for the given identifier, or whether the balance has reached an expected
// minimum. Read-only.
func (s *Service) VerifyBalance(ctx context.Context, externalID, transactionID string, expectedMinBalance int) (*BalanceStatus, error) {
	_ = ctx
	status := &BalanceStatus{Success: true}

	user, err := s.repo.GetUserByExternalID(externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// not an error: the account may simply not be provisioned yet
			return status, nil
		}
		return nil, err
	}
	status.CurrentBalance = user.AvailableTokens

	if transactionID != "" {
		txn, err := s.repo.GetSuccessfulTransaction(externalID, transactionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return status, nil
			}
			return nil, err
		}
		status.BalanceUpdated = true
		status.Transaction = txn
		return status, nil
	}

	if expectedMinBalance > 0 {
		status.ExpectedMinBalance = expectedMinBalance
		status.BalanceUpdated = user.AvailableTokens >= expectedMinBalance
	}
	return status, nil
}

// ProvisionUser creates a credit account for a new identity-provider user,
// seeded with the signup bonus. Returns the account and whether it was
// created by this call; redelivered provisioning events return the
// existing account.
func (s *Service) ProvisionUser(ctx context.Context, externalID, email, firstName, lastName string) (*models.User, bool, error) {
	_ = ctx
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, errors.New("external id is required")
	}

	existing, err := s.repo.GetUserByExternalID(externalID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user, err := models.NewUser(externalID, email, firstName, lastName)
	if err != nil {
		return nil, false, err
	}
	if err := s.repo.CreateUser(user); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// UpdateUserProfile refreshes profile fields mirrored from the identity
// provider. Balance fields are never touched here.
func (s *Service) UpdateUserProfile(ctx context.Context, externalID, email, firstName, lastName string) (*models.User, error) {
	_ = ctx
	user, err := s.repo.GetUserByExternalID(externalID)
	if err != nil {
		return nil, err
	}

	if email != "" {
		user.Email = email
	}
	user.FirstName = firstName
	user.LastName = lastName
	if err := s.repo.SaveUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveUser deletes the credit account when the identity provider reports
// an account deletion. Ledger transactions are kept for audit.
func (s *Service) RemoveUser(ctx context.Context, externalID string) error {
	_ = ctx
	return s.repo.DeleteUserByExternalID(externalID)
}

// GetUserByAPIKey resolves an API key to its account.
func (s *Service) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	_ = ctx
	return s.repo.GetUserByAPIKeyHash(models.HashAPIKey(apiKey))
}
