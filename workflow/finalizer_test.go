package workflow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

func boolPtr(b bool) *bool { return &b }

func TestFilterValidInvoices(t *testing.T) {
	invoices := []models.ParsedInvoice{
		{DocumentID: "F001-1"},                                   // no flag: valid
		{DocumentID: "F001-2", Valid: boolPtr(true)},             // explicit valid
		{DocumentID: "F001-3", Valid: boolPtr(false)},            // explicit invalid
		{DocumentID: "F001-4", Error: "unreadable XML"},          // parser error
		{DocumentID: "F001-5", Valid: boolPtr(true), Error: "x"}, // error wins
	}

	valid := FilterValidInvoices(invoices)
	if len(valid) != 2 {
		t.Fatalf("expected 2 valid invoices, got %d", len(valid))
	}
	if valid[0].DocumentID != "F001-1" || valid[1].DocumentID != "F001-2" {
		t.Errorf("unexpected valid set: %+v", valid)
	}
}

func TestGroupInvoicesByCurrency(t *testing.T) {
	invoices := []models.ParsedInvoice{
		{DocumentID: "A", Currency: "PEN"},
		{DocumentID: "B", Currency: "USD"},
		{DocumentID: "C", Currency: "PEN"},
		{DocumentID: "D", Currency: "CLP"}, // not accepted
		{DocumentID: "E", Currency: ""},    // not accepted
	}

	groups, order := GroupInvoicesByCurrency(invoices)
	if len(order) != 2 || order[0] != models.MonedaPEN || order[1] != models.MonedaUSD {
		t.Fatalf("unexpected currency order: %v", order)
	}
	if len(groups[models.MonedaPEN]) != 2 || len(groups[models.MonedaUSD]) != 1 {
		t.Fatalf("unexpected grouping: %+v", groups)
	}
}

func TestSumGrossTotal(t *testing.T) {
	invoices := []models.ParsedInvoice{
		{TotalAmount: decimal.RequireFromString("1500.50")},
		{TotalAmount: decimal.RequireFromString("0.25")},
		{TotalAmount: decimal.RequireFromString("99.25")},
	}
	if got := SumGrossTotal(invoices); !got.Equal(decimal.RequireFromString("1600.00")) {
		t.Fatalf("unexpected sum: %s", got)
	}
}

func TestIdempotencyKeyFor(t *testing.T) {
	if got := IdempotencyKeyFor("OP-20260901-001", models.MonedaUSD); got != "OP-20260901-001_USD" {
		t.Fatalf("unexpected idempotency key: %s", got)
	}
}

// The full pipeline on one submission: two valid PEN invoices and one the
// parser rejected must yield exactly one operation group carrying both valid
// lines and their combined amount.
func TestFinalizationPipeline_MixedSubmission(t *testing.T) {
	parsed := []models.ParsedInvoice{
		{DocumentID: "F001-1", Currency: "PEN", DebtorRuc: "20100047218", IssueDate: "2026-08-29", TotalAmount: decimal.NewFromInt(1000)},
		{DocumentID: "F001-2", Currency: "PEN", DebtorRuc: "20100047218", IssueDate: "2026-08-29", TotalAmount: decimal.NewFromInt(500)},
		{DocumentID: "F001-3", Currency: "PEN", Error: "unreadable XML"},
	}

	valid := FilterValidInvoices(parsed)
	check, err := ClassifyInvoices(valid, func(models.ParsedInvoice, time.Time) (string, error) {
		return "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	groups, order := GroupInvoicesByCurrency(check.NewInvoices)

	if len(order) != 1 || order[0] != models.MonedaPEN {
		t.Fatalf("expected one PEN group, got %v", order)
	}
	group := groups[models.MonedaPEN]
	if len(group) != 2 {
		t.Fatalf("expected 2 invoice lines, got %d", len(group))
	}
	if got := SumGrossTotal(group); !got.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected operation amount: %s", got)
	}
}
