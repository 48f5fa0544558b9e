package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/yum-mi/tokenledger/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service orchestrates webhook processing: signature verification, payload
// validation, the status state machine and the atomic ledger + balance
// update. The reconciliation importer drives the same state machine through
// Apply.
type Service struct {
	repo   Repository
	secret string
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository, secret string) *Service {
	return &Service{repo: repo, secret: secret}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, secret string) *Service {
	return NewService(NewRepository(db), secret)
}

// ProcessResult reports what a notification did to the ledger.
type ProcessResult struct {
	UID           string
	TrackingID    string
	Status        string
	Idempotent    bool
	Credited      bool
	Debited       bool
	Ignored       bool
	UserMissing   bool
	Tokens        int
	NewAvailable  int
	Amount        int64
	Currency      string
	CustomerEmail string
}

// errDryRun forces a rollback after the state machine has computed its
// intended effects.
var errDryRun = errors.New("dry run rollback")

// ProcessWebhook handles one inbound gateway notification end to end.
// Signature and validation failures surface as ErrInvalidSignature /
// ErrInvalidPayload without touching the idempotency store, so corrected
// resubmissions process normally.
func (s *Service) ProcessWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (*ProcessResult, error) {
	if s.secret == "" {
		return nil, ErrMissingSecret
	}

	n, err := ParseNotification(rawBody)
	if err != nil {
		return nil, err
	}

	signature := signatureHeader
	if signature == "" {
		signature = bodySignature(rawBody)
	}

	// Test transactions may arrive unsigned; everything else must verify.
	if signature == "" && !n.Test {
		return nil, ErrInvalidSignature
	}
	if signature != "" && !VerifySignature(rawBody, signature, s.secret) {
		return nil, ErrInvalidSignature
	}

	return s.process(ctx, n, true, false)
}

// Apply runs a notification through the state machine without signature
// verification. The reconciliation importer is the trust boundary for its
// input. With dryRun set the unit of work is rolled back after computing
// the intended effects.
func (s *Service) Apply(ctx context.Context, n *Notification, dryRun bool) (*ProcessResult, error) {
	return s.process(ctx, n, false, dryRun)
}

func (s *Service) process(ctx context.Context, n *Notification, recordEvent, dryRun bool) (*ProcessResult, error) {
	res := &ProcessResult{}

	err := withStorageRetry(ctx, func() error {
		return s.repo.WithinTransaction(func(tx Repository) error {
			// reset per attempt so a retried unit never sees stale state
			*res = ProcessResult{
				UID:           n.UID,
				TrackingID:    n.TrackingID,
				Status:        n.Status,
				Tokens:        n.Tokens,
				Amount:        n.Amount,
				Currency:      n.Currency,
				CustomerEmail: n.CustomerEmail,
			}

			if recordEvent {
				created, err := tx.InsertWebhookEventIfNew(&models.WebhookEvent{
					EventID:   n.EventID(),
					EventType: n.Status,
					Payload:   datatypes.JSON(n.Raw),
				})
				if err != nil {
					return err
				}
				if !created {
					// same uid+status+paid_at already delivered
					res.Idempotent = true
					return nil
				}
			}

			if err := s.transition(tx, n, res); err != nil {
				return err
			}

			if recordEvent {
				if err := tx.MarkWebhookProcessed(n.EventID()); err != nil {
					return err
				}
			}

			if dryRun {
				return errDryRun
			}
			return nil
		})
	})
	if errors.Is(err, errDryRun) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// transition applies the lifecycle rules for a single notification against
// the locked Transaction and User rows.
func (s *Service) transition(tx Repository, n *Notification, res *ProcessResult) error {
	switch n.Status {
	case models.TransactionStatusPending,
		models.TransactionStatusSuccessful,
		models.TransactionStatusFailed,
		models.TransactionStatusCanceled,
		models.TransactionStatusRefunded:
	default:
		// unrecognized lifecycle status: acknowledge without recording
		log.Printf("webhook: ignoring unknown status %q for uid %s", n.Status, n.UID)
		res.Ignored = true
		return nil
	}

	existing, err := tx.GetTransactionForUpdate(n.UID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	wasSuccessful := existing != nil && existing.IsFinalSuccessful()

	if existing != nil && existing.Status == models.TransactionStatusRefunded {
		// already reversed; nothing may follow a refund
		res.Idempotent = true
		return nil
	}

	if n.Status == models.TransactionStatusSuccessful {
		if err := upsertTransaction(tx, existing, n, models.TransactionStatusSuccessful); err != nil {
			return err
		}
		if wasSuccessful {
			// duplicate of an already-credited event
			res.Idempotent = true
			return nil
		}
		return s.credit(tx, n, res)
	}

	// A refund is the one transition allowed out of successful; everything
	// else would downgrade a credited transaction and is answered
	// idempotently.
	if wasSuccessful && n.Status != models.TransactionStatusRefunded {
		res.Idempotent = true
		return nil
	}

	if err := upsertTransaction(tx, existing, n, n.Status); err != nil {
		return err
	}

	if n.Status == models.TransactionStatusRefunded {
		return s.debit(tx, n, res)
	}
	return nil
}

// credit applies the top-up rule on the first transition into successful:
// the new pool is tokens on top of the unspent remainder, and the usage
// counter resets. A purchase forgives usage against the old pool.
func (s *Service) credit(tx Repository, n *Notification, res *ProcessResult) error {
	user, err := tx.GetUserForUpdate(n.TrackingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Transaction stays recorded for audit; crediting is a
			// bookkeeping gap to fix manually, not a gateway error.
			log.Printf("ERROR: webhook uid %s: no account for tracking_id %q, transaction recorded without credit", n.UID, n.TrackingID)
			res.UserMissing = true
			return nil
		}
		return err
	}

	newAvailable := user.AvailableTokens - user.UsedTokens + n.Tokens
	if err := tx.UpdateUserBalance(user.ExternalID, newAvailable, 0); err != nil {
		return err
	}

	res.Credited = true
	res.NewAvailable = newAvailable
	if res.CustomerEmail == "" {
		res.CustomerEmail = user.Email
	}
	log.Printf("webhook uid %s: credited %d tokens to %s (available %d -> %d)", n.UID, n.Tokens, user.ExternalID, user.AvailableTokens, newAvailable)
	return nil
}

// debit reverses a refunded transaction's tokens, keeping the spendable
// balance at or above zero.
func (s *Service) debit(tx Repository, n *Notification, res *ProcessResult) error {
	user, err := tx.GetUserForUpdate(n.TrackingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("ERROR: refund uid %s: no account for tracking_id %q, refund recorded without debit", n.UID, n.TrackingID)
			res.UserMissing = true
			return nil
		}
		return err
	}

	newAvailable := user.AvailableTokens - n.Tokens
	if newAvailable < user.UsedTokens {
		newAvailable = user.UsedTokens
	}
	if err := tx.UpdateUserBalance(user.ExternalID, newAvailable, user.UsedTokens); err != nil {
		return err
	}

	res.Debited = true
	res.NewAvailable = newAvailable
	log.Printf("webhook uid %s: refunded %d tokens from %s (available %d -> %d)", n.UID, n.Tokens, user.ExternalID, user.AvailableTokens, newAvailable)
	return nil
}

func upsertTransaction(tx Repository, existing *models.Transaction, n *Notification, status string) error {
	paymentType := n.Type
	if status == models.TransactionStatusRefunded {
		paymentType = models.TransactionTypeRefund
	}

	if existing == nil {
		paidAt := n.PaidAtOrNow()
		return tx.CreateTransaction(&models.Transaction{
			UID:               n.UID,
			UserExternalID:    n.TrackingID,
			Status:            status,
			Amount:            n.Amount,
			Currency:          n.Currency,
			Description:       n.Description,
			PaymentType:       paymentType,
			PaymentMethodType: n.PaymentMethodType,
			Message:           n.Message,
			PaidAt:            &paidAt,
		})
	}

	existing.Status = status
	if n.Amount != 0 {
		existing.Amount = n.Amount
	}
	if n.Currency != "" {
		existing.Currency = n.Currency
	}
	if n.Description != "" {
		existing.Description = n.Description
	}
	if n.Message != "" {
		existing.Message = n.Message
	}
	if n.PaidAt != nil {
		existing.PaidAt = n.PaidAt
	}
	existing.PaymentType = paymentType
	return tx.SaveTransaction(existing)
}

// bodySignature pulls a signature embedded in the payload itself, which
// older gateway deliveries used instead of the X-Signature header.
func bodySignature(rawBody []byte) string {
	n := struct {
		Signature   string `json:"signature"`
		Transaction struct {
			Signature string `json:"signature"`
		} `json:"transaction"`
	}{}
	if err := json.Unmarshal(rawBody, &n); err != nil {
		return ""
	}
	if n.Signature != "" {
		return n.Signature
	}
	return n.Transaction.Signature
}
