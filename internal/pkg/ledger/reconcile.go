package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

// ImportRecord is one row of a gateway-side transaction export. Field
// names vary between export formats, so alternates are accepted.
type ImportRecord struct {
	UID            string          `json:"uid"`
	TransactionID  string          `json:"transaction_id"`
	WebhookEventID string          `json:"webhookEventId"`
	TrackingID     string          `json:"tracking_id"`
	UserID         string          `json:"userId"`
	ProviderUserID string          `json:"providerUserId"`
	Status         string          `json:"status"`
	Amount         json.RawMessage `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	PaidAt         string          `json:"paid_at"`
	PaidAtAlt      string          `json:"paidAt"`
}

// ImportSummary counts the outcome of a reconciliation run.
type ImportSummary struct {
	Processed int
	Skipped   int
	Failed    int
}

// Importer replays exported gateway transactions through the ledger's
// state machine, for disaster recovery when webhook notifications were
// lost. Input is operator-trusted: no signature verification. One record's
// failure never aborts the batch.
type Importer struct {
	svc  *Service
	live bool
}

// NewImporter builds an importer. With live false every record is a dry
// run: lookups happen and intended effects are logged, nothing commits.
func NewImporter(svc *Service, live bool) *Importer {
	return &Importer{svc: svc, live: live}
}

// ReadExportFile loads records from a JSON array, a {"records": []}
// wrapper, or NDJSON (by .ndjson extension).
func ReadExportFile(path string) ([]ImportRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".ndjson") {
		var records []ImportRecord
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec ImportRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				return nil, fmt.Errorf("parse NDJSON line: %w", err)
			}
			records = append(records, rec)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return records, nil
	}

	var arr []ImportRecord
	dec := json.NewDecoder(f)
	if err := dec.Decode(&arr); err == nil {
		return arr, nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	var wrapper struct {
		Records []ImportRecord `json:"records"`
	}
	if err := json.NewDecoder(f).Decode(&wrapper); err != nil {
		return nil, fmt.Errorf("unsupported export format (expected array, {records: []}, or NDJSON): %w", err)
	}
	return wrapper.Records, nil
}

// Run replays all records and returns the summary counts.
func (imp *Importer) Run(ctx context.Context, records []ImportRecord) ImportSummary {
	mode := "DRY RUN"
	if imp.live {
		mode = "LIVE"
	}
	log.Printf("reconcile: %d record(s), mode %s", len(records), mode)

	var sum ImportSummary
	for i, rec := range records {
		n, skipReason := rec.toNotification()
		if n == nil {
			log.Printf("reconcile [%d/%d]: skipped: %s", i+1, len(records), skipReason)
			sum.Skipped++
			continue
		}

		res, err := imp.svc.Apply(ctx, n, !imp.live)
		if err != nil {
			log.Printf("reconcile [%d/%d]: uid %s failed: %v", i+1, len(records), n.UID, err)
			sum.Failed++
			continue
		}

		imp.logResult(i+1, len(records), n, res)
		sum.Processed++
	}

	log.Printf("reconcile summary: processed=%d skipped=%d failed=%d", sum.Processed, sum.Skipped, sum.Failed)
	return sum
}

func (imp *Importer) logResult(i, total int, n *Notification, res *ProcessResult) {
	prefix := ""
	if !imp.live {
		prefix = "[DRY] would have "
	}
	switch {
	case res.Idempotent:
		log.Printf("reconcile [%d/%d]: uid %s already reconciled (%s)", i, total, n.UID, n.Status)
	case res.Credited:
		log.Printf("reconcile [%d/%d]: uid %s %scredited %d tokens to %s (available -> %d)", i, total, n.UID, prefix, res.Tokens, n.TrackingID, res.NewAvailable)
	case res.Debited:
		log.Printf("reconcile [%d/%d]: uid %s %sdebited %d tokens from %s (available -> %d)", i, total, n.UID, prefix, res.Tokens, n.TrackingID, res.NewAvailable)
	case res.UserMissing:
		log.Printf("reconcile [%d/%d]: uid %s: user %s missing, transaction %srecorded without credit", i, total, n.UID, n.TrackingID, prefix)
	default:
		log.Printf("reconcile [%d/%d]: uid %s %srecorded as %s", i, total, n.UID, prefix, n.Status)
	}
}

// toNotification normalizes an export row into the state machine's input,
// or explains why it must be skipped.
func (r ImportRecord) toNotification() (*Notification, string) {
	uid := firstNonEmpty(r.UID, r.TransactionID, r.WebhookEventID)
	trackingID := firstNonEmpty(r.TrackingID, r.UserID, r.ProviderUserID)
	if uid == "" || trackingID == "" {
		return nil, fmt.Sprintf("record missing uid or tracking_id (uid=%q tracking=%q)", uid, trackingID)
	}

	status := NormalizeStatus(r.Status)
	n := &Notification{
		UID:               uid,
		Status:            status,
		TrackingID:        trackingID,
		Currency:          strings.ToUpper(firstNonEmpty(r.Currency, "USD")),
		Description:       r.Description,
		Type:              "payment",
		PaymentMethodType: "card",
		Message:           fmt.Sprintf("Reconciled import (%s)", status),
	}

	if len(r.Amount) > 0 && string(r.Amount) != "null" {
		amount, err := NormalizeRawAmount(r.Amount)
		if err != nil {
			return nil, fmt.Sprintf("uid %s: bad amount %s", uid, string(r.Amount))
		}
		n.Amount = amount
	}

	if paidAt := firstNonEmpty(r.PaidAt, r.PaidAtAlt); paidAt != "" {
		if t, err := time.Parse(time.RFC3339, paidAt); err == nil {
			n.PaidAt = &t
		}
	}

	if IsCreditingStatus(status) {
		tokens, ok := ExtractTokens(n.Description)
		if !ok {
			return nil, fmt.Sprintf("uid %s: unparseable description %q", uid, n.Description)
		}
		n.Tokens = tokens
	}

	return n, ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
