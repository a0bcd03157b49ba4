package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// FilterValidInvoices drops the lines the parser could not read. A missing
// valid flag counts as valid; an error message always disqualifies the line.
func FilterValidInvoices(invoices []models.ParsedInvoice) []models.ParsedInvoice {
	var valid []models.ParsedInvoice
	for _, inv := range invoices {
		if inv.IsUsable() {
			valid = append(valid, inv)
		}
	}
	return valid
}

// GroupInvoicesByCurrency buckets invoices per accepted currency, preserving
// first-seen currency order. Lines in unknown currencies are dropped.
func GroupInvoicesByCurrency(invoices []models.ParsedInvoice) (map[models.Moneda][]models.ParsedInvoice, []models.Moneda) {
	groups := make(map[models.Moneda][]models.ParsedInvoice)
	var order []models.Moneda
	for _, inv := range invoices {
		currency := models.Moneda(inv.Currency)
		if !currency.IsValid() {
			continue
		}
		if _, seen := groups[currency]; !seen {
			order = append(order, currency)
		}
		groups[currency] = append(groups[currency], inv)
	}
	return groups, order
}

// SumGrossTotal adds up the gross amounts of a group.
func SumGrossTotal(invoices []models.ParsedInvoice) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		total = total.Add(inv.TotalAmount)
	}
	return total
}

// IdempotencyKeyFor identifies one persisted operation towards downstream
// notification consumers.
func IdempotencyKeyFor(operationID string, currency models.Moneda) string {
	return fmt.Sprintf("%s_%s", operationID, currency)
}

// SaveFullOperation persists one operation and its invoice lines inside the
// caller's transaction. Companies are resolved by RUC on the fly; the registry
// verdict for each line is looked up by XML filename.
func SaveFullOperation(ctx context.Context, tx *gorm.DB, operationID string, submission *models.OperationSubmission, driveURL string, invoices []models.ParsedInvoice, cavaliResults map[string]models.CavaliResult) error {
	if len(invoices) == 0 {
		return errors.New("cannot save an operation without invoice lines")
	}

	cliente, err := models.FindOrCreateEmpresa(ctx, tx, invoices[0].ClientRuc, invoices[0].ClientName)
	if err != nil {
		return err
	}
	if cliente == nil {
		return fmt.Errorf("submission %s carries no client company data", submission.TrackingID)
	}

	currency := models.Moneda(invoices[0].Currency)
	email := submission.UserEmail
	if email == "" {
		email = "unknown@example.com"
	}

	op := models.Operacion{
		ID:                  operationID,
		ClienteRuc:          cliente.Ruc,
		EmailUsuario:        email,
		NombreEjecutivo:     models.ExecutiveNameFromEmail(email),
		UrlCarpetaDrive:     driveURL,
		MontoSumatoriaTotal: SumGrossTotal(invoices),
		MonedaSumatoria:     currency,
		Estado:              models.EstadoOperacionEnVerificacion,
		AdelantoExpress:     submission.AdelantoExpress,
		TrackingID:          submission.TrackingID,
		IdempotencyKey:      IdempotencyKeyFor(operationID, currency),
	}
	if meta := submission.Metadata; meta != nil {
		op.TasaOperacion = meta.TasaOperacion
		op.Comision = meta.Comision
		if meta.SolicitudAdelanto != nil {
			op.SolicitaAdelanto = meta.SolicitudAdelanto.Solicita
			op.PorcentajeAdelanto = meta.SolicitudAdelanto.Porcentaje
		}
		if cuenta := meta.PrincipalAccount(); cuenta != nil {
			op.DesembolsoBanco = cuenta.Banco
			op.DesembolsoTipo = cuenta.Tipo
			op.DesembolsoMoneda = cuenta.Moneda
			op.DesembolsoNumero = cuenta.Numero
		}
	}
	if err := tx.WithContext(ctx).Create(&op).Error; err != nil {
		return err
	}

	for _, inv := range invoices {
		deudor, err := models.FindOrCreateEmpresa(ctx, tx, inv.DebtorRuc, inv.DebtorName)
		if err != nil {
			return err
		}

		factura := models.Factura{
			IdOperacion:     operationID,
			NumeroDocumento: inv.DocumentID,
			Moneda:          models.Moneda(inv.Currency),
			MontoTotal:      inv.TotalAmount,
			MontoNeto:       inv.NetAmount,
			Estado:          models.EstadoFacturaEnVerificacion,
		}
		if deudor != nil {
			factura.DeudorRuc = deudor.Ruc
		}
		if issueDate, ok := parseISODate(inv.IssueDate); ok {
			factura.FechaEmision = &issueDate
		}
		if dueDate, ok := parseISODate(inv.DueDate); ok {
			factura.FechaVencimiento = &dueDate
		}
		if cavali, ok := cavaliResults[inv.XMLFilename]; ok {
			factura.MensajeCavali = cavali.Message
			factura.IdProcesoCavali = cavali.ProcessID
		}
		if err := tx.WithContext(ctx).Create(&factura).Error; err != nil {
			return err
		}
	}
	return nil
}

// FinalizeOperation turns one complete staging record into persisted
// operations, one per currency, and returns the notification payloads to
// dispatch after commit. A submission whose usable invoices are all duplicates
// (or all in unknown currencies) persists nothing and returns no payloads.
func FinalizeOperation(ctx context.Context, tx *gorm.DB, submission *models.OperationSubmission, parsed []models.ParsedInvoice, cavaliResults map[string]models.CavaliResult, driveURL string) ([]models.NotificationPayload, error) {
	logger := config.GetLogger()
	trackingID := submission.TrackingID

	valid := FilterValidInvoices(parsed)
	if len(valid) == 0 {
		logger.WithFields(logrus.Fields{
			"tracking_id": trackingID,
			"total":       len(parsed),
		}).Warn("finalizer: no usable invoices, nothing to persist")
		return nil, nil
	}

	check, err := CheckDuplicateInvoices(ctx, tx, valid)
	if err != nil {
		return nil, err
	}
	if len(check.Skipped) > 0 {
		logger.WithFields(logrus.Fields{
			"tracking_id": trackingID,
			"skipped":     len(check.Skipped),
		}).Warn("finalizer: invoices with incomplete fingerprint passed through unchecked")
	}
	if len(check.Duplicates) > 0 {
		logger.WithFields(logrus.Fields{
			"tracking_id": trackingID,
			"duplicates":  len(check.Duplicates),
		}).Warn("finalizer: duplicate invoices detected")
		if check.HasOnlyDuplicates() {
			logger.WithFields(logrus.Fields{"tracking_id": trackingID}).
				Warn("finalizer: every invoice is a duplicate, rejecting submission")
			return nil, nil
		}
	}

	groups, order := GroupInvoicesByCurrency(check.NewInvoices)
	if len(order) == 0 {
		logger.WithFields(logrus.Fields{"tracking_id": trackingID}).
			Warn("finalizer: no invoices in accepted currencies, nothing to persist")
		return nil, nil
	}

	var notifications []models.NotificationPayload
	now := time.Now().UTC()
	for _, currency := range order {
		group := groups[currency]
		operationID, err := NextOperationID(ctx, tx, now)
		if err != nil {
			return nil, err
		}
		if err := SaveFullOperation(ctx, tx, operationID, submission, driveURL, group, cavaliResults); err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"tracking_id":  trackingID,
			"operation_id": operationID,
			"currency":     currency,
			"invoices":     len(group),
		}).Info("finalizer: operation persisted")

		notifications = append(notifications, models.NotificationPayload{
			OperationID:        operationID,
			IdempotencyKey:     IdempotencyKeyFor(operationID, currency),
			OriginalTrackingID: trackingID,
			UserEmail:          submission.UserEmail,
			Metadata:           submission.Metadata,
			ParsedResults:      group,
			CavaliResults:      cavaliResults,
			DriveFolderURL:     driveURL,
			GCSPaths:           submission.GCSPaths,
			DuplicateInfo: &models.DuplicateSummary{
				DuplicatesFound:   len(check.Duplicates),
				DuplicatesDetails: check.Duplicates,
			},
			CorrelationId: submission.CorrelationId,
		})
	}
	return notifications, nil
}
