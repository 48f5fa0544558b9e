package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yum-mi/tokenledger/app/models"
)

const testSecret = "webhook-test-secret"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Transaction{}, &models.WebhookEvent{}))
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewServiceFromDB(db, testSecret), db
}

func seedUser(t *testing.T, db *gorm.DB, externalID string, available, used int) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{
		ExternalID:      externalID,
		Email:           externalID + "@example.com",
		Status:          models.STATUS_ACTIVE,
		AvailableTokens: available,
		UsedTokens:      used,
	}).Error)
}

func getUser(t *testing.T, db *gorm.DB, externalID string) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, db.Where("external_id = ?", externalID).First(&u).Error)
	return u
}

func signedBody(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	sig, err := ComputeSignature([]byte(body), testSecret)
	require.NoError(t, err)
	return []byte(body), sig
}

func paymentBody(uid, status, trackingID, amount, description, paidAt string) string {
	return fmt.Sprintf(`{"uid":%q,"status":%q,"tracking_id":%q,"amount":%q,"currency":"USD","description":%q,"paid_at":%q}`,
		uid, status, trackingID, amount, description, paidAt)
}

func TestProcessWebhook_CreditsOnSuccess(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_1", 20, 5)

	body, sig := signedBody(t, paymentBody("tx-100", "successful", "user_1", "10.00", "Yum-Mi Tokens Purchase (100 Tokens)", "2026-01-02T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	assert.True(t, res.Credited)
	assert.False(t, res.Idempotent)
	assert.Equal(t, 115, res.NewAvailable) // 20 - 5 + 100
	assert.Equal(t, "user_1", res.TrackingID)

	user := getUser(t, db, "user_1")
	assert.Equal(t, 115, user.AvailableTokens)
	assert.Equal(t, 0, user.UsedTokens)

	var txn models.Transaction
	require.NoError(t, db.Where("uid = ?", "tx-100").First(&txn).Error)
	assert.Equal(t, models.TransactionStatusSuccessful, txn.Status)
	assert.Equal(t, int64(1000), txn.Amount) // "10.00" normalized to cents
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, "user_1", txn.UserExternalID)
}

func TestProcessWebhook_RedeliveryIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_1", 0, 0)

	body, sig := signedBody(t, paymentBody("tx-200", "successful", "user_1", "5.00", "(50 Tokens)", "2026-01-02T10:00:00Z"))

	res1, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res1.Credited)
	assert.Equal(t, 50, res1.NewAvailable)

	// exact redelivery: same uid, status and paid_at
	res2, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res2.Idempotent)
	assert.False(t, res2.Credited)

	user := getUser(t, db, "user_1")
	assert.Equal(t, 50, user.AvailableTokens)

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("uid = ?", "tx-200").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProcessWebhook_PendingThenSuccessful(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_2", 10, 0)

	pending, pendingSig := signedBody(t, paymentBody("tx-300", "pending", "user_2", "5.00", "(50 Tokens)", "2026-01-03T08:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), pending, pendingSig)
	require.NoError(t, err)
	assert.False(t, res.Credited)
	assert.Equal(t, 10, getUser(t, db, "user_2").AvailableTokens)

	successful, successfulSig := signedBody(t, paymentBody("tx-300", "successful", "user_2", "5.00", "(50 Tokens)", "2026-01-03T08:05:00Z"))
	res, err = svc.ProcessWebhook(context.Background(), successful, successfulSig)
	require.NoError(t, err)
	assert.True(t, res.Credited)

	user := getUser(t, db, "user_2")
	assert.Equal(t, 60, user.AvailableTokens) // 10 - 0 + 50
	assert.Equal(t, 0, user.UsedTokens)

	// one row per uid, upgraded in place
	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("uid = ?", "tx-300").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var txn models.Transaction
	require.NoError(t, db.Where("uid = ?", "tx-300").First(&txn).Error)
	assert.Equal(t, models.TransactionStatusSuccessful, txn.Status)
}

func TestProcessWebhook_SecondSuccessfulDeliveryCreditsOnce(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_3", 0, 0)

	// distinct paid_at values defeat event-level dedup; the transaction
	// state machine must still credit only once
	first, firstSig := signedBody(t, paymentBody("tx-400", "successful", "user_3", "5.00", "(50 Tokens)", "2026-01-04T12:00:00Z"))
	second, secondSig := signedBody(t, paymentBody("tx-400", "successful", "user_3", "5.00", "(50 Tokens)", "2026-01-04T12:01:00Z"))

	res, err := svc.ProcessWebhook(context.Background(), first, firstSig)
	require.NoError(t, err)
	assert.True(t, res.Credited)

	res, err = svc.ProcessWebhook(context.Background(), second, secondSig)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.False(t, res.Credited)

	assert.Equal(t, 50, getUser(t, db, "user_3").AvailableTokens)
}

func TestProcessWebhook_NeverDowngradesSuccessful(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_4", 0, 0)

	successful, successfulSig := signedBody(t, paymentBody("tx-500", "successful", "user_4", "5.00", "(50 Tokens)", "2026-01-05T09:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), successful, successfulSig)
	require.NoError(t, err)
	assert.True(t, res.Credited)

	failed, failedSig := signedBody(t, paymentBody("tx-500", "failed", "user_4", "5.00", "(50 Tokens)", "2026-01-05T09:10:00Z"))
	res, err = svc.ProcessWebhook(context.Background(), failed, failedSig)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)

	var txn models.Transaction
	require.NoError(t, db.Where("uid = ?", "tx-500").First(&txn).Error)
	assert.Equal(t, models.TransactionStatusSuccessful, txn.Status)
	assert.Equal(t, 50, getUser(t, db, "user_4").AvailableTokens)
}

func TestProcessWebhook_RefundDebits(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_5", 0, 0)

	successful, successfulSig := signedBody(t, paymentBody("tx-600", "successful", "user_5", "5.00", "(50 Tokens)", "2026-01-06T10:00:00Z"))
	_, err := svc.ProcessWebhook(context.Background(), successful, successfulSig)
	require.NoError(t, err)
	assert.Equal(t, 50, getUser(t, db, "user_5").AvailableTokens)

	refunded, refundedSig := signedBody(t, paymentBody("tx-600", "refunded", "user_5", "5.00", "(50 Tokens)", "2026-01-06T11:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), refunded, refundedSig)
	require.NoError(t, err)
	assert.True(t, res.Debited)
	assert.Equal(t, 0, res.NewAvailable)

	user := getUser(t, db, "user_5")
	assert.Equal(t, 0, user.AvailableTokens)

	var txn models.Transaction
	require.NoError(t, db.Where("uid = ?", "tx-600").First(&txn).Error)
	assert.Equal(t, models.TransactionStatusRefunded, txn.Status)
	assert.Equal(t, models.TransactionTypeRefund, txn.PaymentType)

	// a second refund delivery must not debit again
	refundedAgain, refundedAgainSig := signedBody(t, paymentBody("tx-600", "refunded", "user_5", "5.00", "(50 Tokens)", "2026-01-06T12:00:00Z"))
	res, err = svc.ProcessWebhook(context.Background(), refundedAgain, refundedAgainSig)
	require.NoError(t, err)
	assert.True(t, res.Idempotent)
	assert.Equal(t, 0, getUser(t, db, "user_5").AvailableTokens)
}

func TestProcessWebhook_RefundDebitFloorsAtUsed(t *testing.T) {
	svc, db := newTestService(t)
	// user already spent against the pool; the debit must not push
	// available below used
	seedUser(t, db, "user_6", 30, 25)

	refunded, refundedSig := signedBody(t, paymentBody("tx-700", "refunded", "user_6", "5.00", "(50 Tokens)", "2026-01-07T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), refunded, refundedSig)
	require.NoError(t, err)
	assert.True(t, res.Debited)

	user := getUser(t, db, "user_6")
	assert.Equal(t, 25, user.AvailableTokens)
	assert.Equal(t, 25, user.UsedTokens)
	assert.Equal(t, 0, user.SpendableTokens())
}

func TestProcessWebhook_InvalidSignatureRejected(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_7", 0, 0)

	body := []byte(paymentBody("tx-800", "successful", "user_7", "5.00", "(50 Tokens)", "2026-01-08T10:00:00Z"))
	_, err := svc.ProcessWebhook(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// rejected deliveries must not poison the idempotency store
	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)

	sig, err := ComputeSignature(body, testSecret)
	require.NoError(t, err)
	res, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Credited)
}

func TestProcessWebhook_MissingSignatureRejected(t *testing.T) {
	svc, _ := newTestService(t)
	body := []byte(paymentBody("tx-801", "successful", "user_7", "5.00", "(50 Tokens)", "2026-01-08T10:00:00Z"))
	_, err := svc.ProcessWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestProcessWebhook_TestTransactionMaySkipSignature(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_8", 0, 0)

	body := []byte(`{"uid":"tx-900","status":"successful","tracking_id":"user_8","amount":"1.00","description":"(10 Tokens)","test":true}`)
	res, err := svc.ProcessWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 10, getUser(t, db, "user_8").AvailableTokens)
}

func TestProcessWebhook_BadDescriptionRejectedThenCorrectedProcesses(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_9", 0, 0)

	bad, badSig := signedBody(t, paymentBody("tx-1000", "successful", "user_9", "5.00", "Premium subscription", "2026-01-09T10:00:00Z"))
	_, err := svc.ProcessWebhook(context.Background(), bad, badSig)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	var events, txns int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	require.NoError(t, db.Model(&models.Transaction{}).Count(&txns).Error)
	assert.Zero(t, events)
	assert.Zero(t, txns)

	// corrected resubmission for the same uid processes normally
	good, goodSig := signedBody(t, paymentBody("tx-1000", "successful", "user_9", "5.00", "(50 Tokens)", "2026-01-09T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), good, goodSig)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 50, getUser(t, db, "user_9").AvailableTokens)
}

func TestProcessWebhook_UnknownStatusIgnored(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_10", 0, 0)

	body, sig := signedBody(t, paymentBody("tx-1100", "chargeback_opened", "user_10", "5.00", "(50 Tokens)", "2026-01-10T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	var txns int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&txns).Error)
	assert.Zero(t, txns)
}

func TestProcessWebhook_UserMissingRecordsTransaction(t *testing.T) {
	svc, db := newTestService(t)

	body, sig := signedBody(t, paymentBody("tx-1200", "successful", "ghost_user", "5.00", "(50 Tokens)", "2026-01-11T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.UserMissing)
	assert.False(t, res.Credited)

	// transaction is kept for audit even though no account was credited
	var txn models.Transaction
	require.NoError(t, db.Where("uid = ?", "tx-1200").First(&txn).Error)
	assert.Equal(t, models.TransactionStatusSuccessful, txn.Status)
}

func TestProcessWebhook_MissingSecret(t *testing.T) {
	db := newTestDB(t)
	svc := NewServiceFromDB(db, "")

	body := []byte(paymentBody("tx-1300", "successful", "user_1", "5.00", "(50 Tokens)", "2026-01-12T10:00:00Z"))
	_, err := svc.ProcessWebhook(context.Background(), body, "irrelevant")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestProcessWebhook_MissingRequiredFields(t *testing.T) {
	svc, _ := newTestService(t)

	for _, body := range []string{
		`{"status":"successful","tracking_id":"user_1","description":"(10 Tokens)"}`,
		`{"uid":"tx-1","tracking_id":"user_1","description":"(10 Tokens)"}`,
		`{"uid":"tx-1","status":"successful","description":"(10 Tokens)"}`,
		`not json at all`,
	} {
		_, err := svc.ProcessWebhook(context.Background(), []byte(body), "deadbeef")
		assert.ErrorIs(t, err, ErrInvalidPayload, "body %s", body)
	}
}

func TestProcessWebhook_NestedTransactionEnvelope(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_11", 0, 0)

	body := `{"transaction":{"uid":"tx-1400","status":"successful","tracking_id":"user_11","amount":"2.00","description":"(20 Tokens)","paid_at":"2026-01-13T10:00:00Z"}}`
	raw, sig := signedBody(t, body)

	res, err := svc.ProcessWebhook(context.Background(), raw, sig)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 20, getUser(t, db, "user_11").AvailableTokens)
}

func TestProcessWebhook_StatusAliasesNormalized(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_12", 0, 0)

	body, sig := signedBody(t, paymentBody("tx-1500", "completed", "user_12", "1.00", "(10 Tokens)", "2026-01-14T10:00:00Z"))
	res, err := svc.ProcessWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, models.TransactionStatusSuccessful, res.Status)
}

func TestApply_DryRunRollsBack(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_13", 20, 5)

	paidAt := mustParseTime(t, "2026-01-15T10:00:00Z")
	n := &Notification{
		UID:         "tx-1600",
		Status:      models.TransactionStatusSuccessful,
		TrackingID:  "user_13",
		Amount:      1000,
		Currency:    "USD",
		Description: "(100 Tokens)",
		Tokens:      100,
		Type:        models.TransactionTypePayment,
		PaidAt:      &paidAt,
	}

	res, err := svc.Apply(context.Background(), n, true)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 115, res.NewAvailable)

	// nothing committed
	user := getUser(t, db, "user_13")
	assert.Equal(t, 20, user.AvailableTokens)
	assert.Equal(t, 5, user.UsedTokens)

	var txns int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&txns).Error)
	assert.Zero(t, txns)
}

func TestApply_LiveCommits(t *testing.T) {
	svc, db := newTestService(t)
	seedUser(t, db, "user_14", 0, 0)

	n := &Notification{
		UID:         "tx-1700",
		Status:      models.TransactionStatusSuccessful,
		TrackingID:  "user_14",
		Amount:      500,
		Currency:    "USD",
		Description: "(50 Tokens)",
		Tokens:      50,
		Type:        models.TransactionTypePayment,
	}

	res, err := svc.Apply(context.Background(), n, false)
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 50, getUser(t, db, "user_14").AvailableTokens)
}
