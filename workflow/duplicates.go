package workflow

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// DuplicateCheckResult partitions the usable invoices of a submission into
// fresh lines and lines already persisted in a prior operation.
type DuplicateCheckResult struct {
	NewInvoices []models.ParsedInvoice
	Duplicates  []models.DuplicateInfo
	Skipped     []models.ParsedInvoice
}

// HasOnlyDuplicates reports whether nothing new is left to persist.
func (r *DuplicateCheckResult) HasOnlyDuplicates() bool {
	return len(r.NewInvoices) == 0 && len(r.Duplicates) > 0
}

// parseISODate accepts the issue/due date formats the parser emits.
func parseISODate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// InvoiceFingerprint is the identity used for duplicate detection: debtor RUC,
// document number, gross amount and issue date.
func InvoiceFingerprint(inv models.ParsedInvoice) string {
	return fmt.Sprintf("%s-%s-%s-%s", inv.DebtorRuc, inv.DocumentID, inv.TotalAmount.String(), inv.IssueDate)
}

// ClassifyInvoices splits invoices into new lines and duplicates using the
// supplied lookup. Lines with an incomplete fingerprint (missing debtor RUC,
// document number or issue date) cannot be checked and pass through as new,
// reported in Skipped so the caller can log them.
func ClassifyInvoices(invoices []models.ParsedInvoice, findExisting func(inv models.ParsedInvoice, issueDate time.Time) (string, error)) (*DuplicateCheckResult, error) {
	result := &DuplicateCheckResult{}
	for _, inv := range invoices {
		if inv.DebtorRuc == "" || inv.DocumentID == "" || inv.IssueDate == "" {
			result.Skipped = append(result.Skipped, inv)
			result.NewInvoices = append(result.NewInvoices, inv)
			continue
		}
		issueDate, ok := parseISODate(inv.IssueDate)
		if !ok {
			result.Skipped = append(result.Skipped, inv)
			result.NewInvoices = append(result.NewInvoices, inv)
			continue
		}

		existingOpID, err := findExisting(inv, issueDate)
		if err != nil {
			return nil, err
		}
		if existingOpID != "" {
			result.Duplicates = append(result.Duplicates, models.DuplicateInfo{
				DocumentID:          inv.DocumentID,
				Fingerprint:         InvoiceFingerprint(inv),
				ExistingOperationID: existingOpID,
			})
			continue
		}
		result.NewInvoices = append(result.NewInvoices, inv)
	}
	return result, nil
}

// CheckDuplicateInvoices classifies against the facturas table.
func CheckDuplicateInvoices(ctx context.Context, tx *gorm.DB, invoices []models.ParsedInvoice) (*DuplicateCheckResult, error) {
	return ClassifyInvoices(invoices, func(inv models.ParsedInvoice, issueDate time.Time) (string, error) {
		existing, err := models.FindFacturaByFingerprint(ctx, tx, inv.DebtorRuc, inv.DocumentID, inv.TotalAmount, issueDate)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", nil
		}
		return existing.IdOperacion, nil
	})
}
