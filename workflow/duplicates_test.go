package workflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func invoice(debtor, doc, issue string, amount int64) models.ParsedInvoice {
	return models.ParsedInvoice{
		DebtorRuc:   debtor,
		DocumentID:  doc,
		IssueDate:   issue,
		TotalAmount: decimal.NewFromInt(amount),
		Currency:    "PEN",
	}
}

func TestClassifyInvoices_SplitsNewAndDuplicates(t *testing.T) {
	known := map[string]string{
		"20100047218|F001-123": "OP-20260830-001",
	}
	lookup := func(inv models.ParsedInvoice, _ time.Time) (string, error) {
		return known[inv.DebtorRuc+"|"+inv.DocumentID], nil
	}

	result, err := ClassifyInvoices([]models.ParsedInvoice{
		invoice("20100047218", "F001-123", "2026-08-29", 1500),
		invoice("20600055519", "F001-456", "2026-08-29", 2000),
	}, lookup)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.NewInvoices) != 1 || result.NewInvoices[0].DocumentID != "F001-456" {
		t.Fatalf("unexpected new invoices: %+v", result.NewInvoices)
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("expected 1 duplicate, got %d", len(result.Duplicates))
	}
	dup := result.Duplicates[0]
	if dup.ExistingOperationID != "OP-20260830-001" {
		t.Errorf("unexpected existing operation: %s", dup.ExistingOperationID)
	}
	if dup.Fingerprint != "20100047218-F001-123-1500-2026-08-29" {
		t.Errorf("unexpected fingerprint: %s", dup.Fingerprint)
	}
	if result.HasOnlyDuplicates() {
		t.Error("one invoice is new; submission must not be rejected")
	}
}

func TestClassifyInvoices_AllDuplicatesRejectsSubmission(t *testing.T) {
	lookup := func(models.ParsedInvoice, time.Time) (string, error) {
		return "OP-20260830-002", nil
	}

	result, err := ClassifyInvoices([]models.ParsedInvoice{
		invoice("20100047218", "F001-123", "2026-08-29", 1500),
		invoice("20100047218", "F001-124", "2026-08-29", 900),
	}, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if !result.HasOnlyDuplicates() {
		t.Fatalf("expected only duplicates, got %+v", result)
	}
}

func TestClassifyInvoices_IncompleteFingerprintPassesThrough(t *testing.T) {
	calls := 0
	lookup := func(models.ParsedInvoice, time.Time) (string, error) {
		calls++
		return "", nil
	}

	result, err := ClassifyInvoices([]models.ParsedInvoice{
		invoice("", "F001-123", "2026-08-29", 100),          // no debtor
		invoice("20100047218", "", "2026-08-29", 100),       // no document
		invoice("20100047218", "F001-125", "", 100),         // no issue date
		invoice("20100047218", "F001-126", "not-a-date", 1), // unparseable date
	}, lookup)
	if err != nil {
		t.Fatal(err)
	}

	if calls != 0 {
		t.Errorf("lookup must not run for incomplete fingerprints, ran %d times", calls)
	}
	if len(result.Skipped) != 4 {
		t.Errorf("expected 4 skipped, got %d", len(result.Skipped))
	}
	// Skipped lines still persist; silently dropping them would lose invoices.
	if len(result.NewInvoices) != 4 {
		t.Errorf("expected 4 new, got %d", len(result.NewInvoices))
	}
}
