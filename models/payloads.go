package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SolicitudAdelanto is the advance-payment request carried in the submission
// metadata.
type SolicitudAdelanto struct {
	Solicita   bool            `json:"solicita"`
	Porcentaje decimal.Decimal `json:"porcentaje"`
}

// CuentaDesembolso is one disbursement account in the submission metadata. The
// first entry is the principal account recorded on the Operacion.
type CuentaDesembolso struct {
	Banco  string `json:"banco"`
	Tipo   string `json:"tipo"`
	Moneda string `json:"moneda"`
	Numero string `json:"numero"`
}

// OperationMetadata is commercial data attached by the intake form.
type OperationMetadata struct {
	TasaOperacion     decimal.Decimal    `json:"tasaOperacion"`
	Comision          decimal.Decimal    `json:"comision"`
	SolicitudAdelanto *SolicitudAdelanto `json:"solicitudAdelanto,omitempty"`
	CuentasDesembolso []CuentaDesembolso `json:"cuentasDesembolso,omitempty"`
}

// PrincipalAccount returns the first disbursement account, if any.
func (m *OperationMetadata) PrincipalAccount() *CuentaDesembolso {
	if m == nil || len(m.CuentasDesembolso) == 0 {
		return nil
	}
	return &m.CuentasDesembolso[0]
}

// GCSPaths is the artifact manifest for one submission: every uploaded file
// addressed by its gs:// reference.
type GCSPaths struct {
	XML      []string `json:"xml"`
	PDF      []string `json:"pdf"`
	Respaldo []string `json:"respaldo"`
}

// OperationSubmission is the initial payload published on operation-submitted
// and stored verbatim as the staging record's initial snapshot.
type OperationSubmission struct {
	TrackingID      string             `json:"tracking_id"`
	UserEmail       string             `json:"user_email"`
	Metadata        *OperationMetadata `json:"metadata,omitempty"`
	GCSPaths        *GCSPaths          `json:"gcs_paths,omitempty"`
	AdelantoExpress bool               `json:"adelanto_express,omitempty"`
	CorrelationId   string             `json:"correlation_id,omitempty"`
}

// ParsedInvoice is one invoice extracted from an uploaded XML. The parser marks
// unreadable files with Valid=false or a non-empty Error; those lines never
// reach persistence.
type ParsedInvoice struct {
	XMLFilename string          `json:"xml_filename"`
	ClientRuc   string          `json:"client_ruc"`
	ClientName  string          `json:"client_name"`
	DebtorRuc   string          `json:"debtor_ruc"`
	DebtorName  string          `json:"debtor_name"`
	DocumentID  string          `json:"document_id"`
	IssueDate   string          `json:"issue_date"`
	DueDate     string          `json:"due_date"`
	Currency    string          `json:"currency"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Valid       *bool           `json:"valid,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// IsUsable reports whether a parsed line may be persisted. Absent the valid
// flag the line counts as valid; an error message always disqualifies it.
func (p ParsedInvoice) IsUsable() bool {
	if p.Error != "" {
		return false
	}
	if p.Valid != nil && !*p.Valid {
		return false
	}
	return true
}

// CavaliResult is the registry verdict for one invoice, keyed by XML filename
// in the worker payload.
type CavaliResult struct {
	Message    string `json:"message"`
	ProcessID  string `json:"process_id"`
	ResultCode int    `json:"result_code"`
}

// ParsedPayload is the invoices-parsed event body.
type ParsedPayload struct {
	TrackingID    string          `json:"tracking_id"`
	ParsedResults []ParsedInvoice `json:"parsed_results"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

// CavaliPayload is the invoices-validated event body.
type CavaliPayload struct {
	TrackingID    string                  `json:"tracking_id"`
	CavaliResults map[string]CavaliResult `json:"cavali_results"`
	CorrelationId string                  `json:"correlation_id,omitempty"`
}

// DrivePayload is the archiver's completion event body.
type DrivePayload struct {
	TrackingID     string `json:"tracking_id"`
	DriveFolderURL string `json:"drive_folder_url"`
	CorrelationId  string `json:"correlation_id,omitempty"`
}

// WorkerEvent is the union of the three worker result payloads. The aggregator
// receives all of them on one push endpoint and classifies by shape.
type WorkerEvent struct {
	TrackingID     string                  `json:"tracking_id"`
	ParsedResults  []ParsedInvoice         `json:"parsed_results,omitempty"`
	CavaliResults  map[string]CavaliResult `json:"cavali_results,omitempty"`
	DriveFolderURL string                  `json:"drive_folder_url,omitempty"`
	CorrelationId  string                  `json:"correlation_id,omitempty"`
}

type WorkerEventKind string

const (
	WorkerEventParsed  WorkerEventKind = "parsed"
	WorkerEventCavali  WorkerEventKind = "cavali"
	WorkerEventDrive   WorkerEventKind = "drive"
	WorkerEventUnknown WorkerEventKind = "unknown"
)

// Kind classifies a worker event by which result field it carries.
func (e *WorkerEvent) Kind() WorkerEventKind {
	switch {
	case e.ParsedResults != nil:
		return WorkerEventParsed
	case e.CavaliResults != nil:
		return WorkerEventCavali
	case strings.TrimSpace(e.DriveFolderURL) != "":
		return WorkerEventDrive
	default:
		return WorkerEventUnknown
	}
}

// DuplicateInfo describes one invoice skipped at finalization because an
// identical fingerprint already exists in a prior operation.
type DuplicateInfo struct {
	DocumentID          string `json:"document_id"`
	Fingerprint         string `json:"fingerprint"`
	ExistingOperationID string `json:"existing_operation"`
}

// DuplicateSummary is the duplicate report attached to notifications.
type DuplicateSummary struct {
	DuplicatesFound   int             `json:"duplicates_found"`
	DuplicatesDetails []DuplicateInfo `json:"duplicates_details"`
}

// NotificationPayload is the operation-persisted event body, also posted to
// each downstream notification target.
type NotificationPayload struct {
	OperationID        string                  `json:"operation_id"`
	IdempotencyKey     string                  `json:"idempotency_key"`
	OriginalTrackingID string                  `json:"original_tracking_id"`
	UserEmail          string                  `json:"user_email"`
	Metadata           *OperationMetadata      `json:"metadata,omitempty"`
	ParsedResults      []ParsedInvoice         `json:"parsed_results"`
	CavaliResults      map[string]CavaliResult `json:"cavali_results,omitempty"`
	DriveFolderURL     string                  `json:"drive_folder_url,omitempty"`
	GCSPaths           *GCSPaths               `json:"gcs_paths,omitempty"`
	DuplicateInfo      *DuplicateSummary       `json:"duplicate_info,omitempty"`
	CorrelationId      string                  `json:"correlation_id,omitempty"`
}

// jsonPresent reports whether a stored JSON column actually holds a value.
// GORM writes "null" for nil json.RawMessage, which counts as absent.
func jsonPresent(b []byte) bool {
	trimmed := strings.TrimSpace(string(b))
	return trimmed != "" && trimmed != "null"
}
