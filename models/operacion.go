package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/utils"
)

// Operacion is one factoring operation: a batch of invoices of a single
// currency assigned by one client, moving through verification.
type Operacion struct {
	ID                    string          `gorm:"primary_key;size:255" json:"id"`
	ClienteRuc            string          `gorm:"size:11;not null;index" json:"cliente_ruc"`
	Cliente               *Empresa        `gorm:"foreignKey:ClienteRuc;references:Ruc" json:"cliente,omitempty"`
	EmailUsuario          string          `gorm:"size:255;index" json:"email_usuario"`
	NombreEjecutivo       string          `gorm:"type:text" json:"nombre_ejecutivo"`
	UrlCarpetaDrive       string          `gorm:"type:text" json:"url_carpeta_drive"`
	MontoSumatoriaTotal   decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"monto_sumatoria_total"`
	MonedaSumatoria       Moneda          `gorm:"size:10" json:"moneda_sumatoria"`
	FechaCreacion         time.Time       `gorm:"autoCreateTime;index" json:"fecha_creacion"`
	TasaOperacion         decimal.Decimal `gorm:"type:decimal(10,6)" json:"tasa_operacion"`
	Comision              decimal.Decimal `gorm:"type:decimal(10,6)" json:"comision"`
	SolicitaAdelanto      bool            `gorm:"not null;default:false" json:"solicita_adelanto"`
	PorcentajeAdelanto    decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"porcentaje_adelanto"`
	DesembolsoBanco       string          `gorm:"size:100" json:"desembolso_banco"`
	DesembolsoTipo        string          `gorm:"size:50" json:"desembolso_tipo"`
	DesembolsoMoneda      string          `gorm:"size:10" json:"desembolso_moneda"`
	DesembolsoNumero      string          `gorm:"size:100" json:"desembolso_numero"`
	Estado                EstadoOperacion `gorm:"size:50;not null;default:'En Verificación';index" json:"estado"`
	AdelantoExpress       bool            `gorm:"not null;default:false" json:"adelanto_express"`
	AnalistaAsignadoEmail *string         `gorm:"size:255;index" json:"analista_asignado_email"`
	TrackingID            string          `gorm:"size:255;index" json:"tracking_id"`
	IdempotencyKey        string          `gorm:"size:255;uniqueIndex" json:"idempotency_key"`
	Facturas              []Factura       `gorm:"foreignKey:IdOperacion;references:ID" json:"facturas,omitempty"`
	Gestiones             []Gestion       `gorm:"foreignKey:IdOperacion;references:ID" json:"gestiones,omitempty"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ExecutiveNameFromEmail derives the display name recorded on the operation
// from the submitting user's address: local part, dots as spaces, title case.
func ExecutiveNameFromEmail(email string) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	words := strings.Split(strings.ReplaceAll(local, ".", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// RecomputeOperationStatus derives the operation state from its invoice lines.
// Completada is terminal and never recomputed away.
func RecomputeOperationStatus(current EstadoOperacion, facturas []Factura) EstadoOperacion {
	if current == EstadoOperacionCompletada {
		return current
	}
	if len(facturas) == 0 {
		return EstadoOperacionEnVerificacion
	}

	allVerified := true
	for _, f := range facturas {
		if f.Estado == EstadoFacturaRechazada {
			return EstadoOperacionDiscrepancia
		}
		if f.Estado != EstadoFacturaVerificada {
			allVerified = false
		}
	}
	if allVerified {
		return EstadoOperacionConforme
	}
	return EstadoOperacionEnVerificacion
}

// OperacionRow is one dashboard listing entry.
type OperacionRow struct {
	ID           string          `json:"id"`
	FechaIngreso time.Time       `json:"fechaIngreso"`
	Cliente      string          `json:"cliente"`
	Monto        decimal.Decimal `json:"monto"`
	Moneda       Moneda          `json:"moneda"`
	Estado       EstadoOperacion `json:"estado"`
}

// PaginatedOperations carries one dashboard page plus the unpaginated total.
type PaginatedOperations struct {
	Operations []OperacionRow `json:"operations"`
	Total      int64          `json:"total"`
}

// ListOperaciones returns the dashboard page for a user. Admins see every
// operation; other roles only their own submissions.
func ListOperaciones(ctx context.Context, userEmail string, userRole string, offset int, limit int) (*PaginatedOperations, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	base := db.WithContext(ctx).Model(&Operacion{}).
		Joins("JOIN empresas ON empresas.ruc = operacions.cliente_ruc")
	if userRole != "admin" {
		base = base.Where("operacions.email_usuario = ?", userEmail)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []OperacionRow
	err := base.Session(&gorm.Session{}).
		Select("operacions.id AS id, operacions.fecha_creacion AS fecha_ingreso, empresas.razon_social AS cliente, operacions.monto_sumatoria_total AS monto, operacions.moneda_sumatoria AS moneda, operacions.estado AS estado").
		Order("operacions.fecha_creacion DESC").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return &PaginatedOperations{Operations: rows, Total: total}, nil
}

// GetOperacionByID loads one operation with its invoice lines and follow-ups.
func GetOperacionByID(ctx context.Context, id string) (*Operacion, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var op Operacion
	err := db.WithContext(ctx).
		Preload("Cliente").
		Preload("Facturas").
		Preload("Facturas.Deudor").
		Preload("Gestiones").
		Preload("Gestiones.Analista").
		Where("id = ?", id).
		First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &op, nil
}

// Active states shown on the follow-up queue.
var gestionActiveStates = []EstadoOperacion{
	EstadoOperacionEnVerificacion,
	EstadoOperacionDiscrepancia,
	EstadoOperacionConforme,
}

// ListGestionOperations returns the follow-up work queue, oldest and largest
// first. Admins see every active operation; analysts only their assignments.
func ListGestionOperations(ctx context.Context, userEmail string, userRole string) ([]Operacion, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	query := db.WithContext(ctx).
		Preload("Cliente").
		Preload("Facturas").
		Preload("Facturas.Deudor").
		Preload("Gestiones").
		Preload("Gestiones.Analista").
		Where("estado IN ?", gestionActiveStates)
	if userRole != "admin" {
		query = query.Where("analista_asignado_email = ?", userEmail)
	}

	now := time.Now().UTC()
	var ops []Operacion
	err := query.
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN fecha_creacion < ? THEN 1 WHEN fecha_creacion < ? THEN 2 ELSE 3 END ASC, monto_sumatoria_total DESC",
			Vars:               []interface{}{now.AddDate(0, 0, -5), now.AddDate(0, 0, -2)},
			WithoutParentheses: true,
		}}).
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// MarkAdelantoExpress flags an operation for the express-advance queue and
// records the analyst's justification as a follow-up entry.
func MarkAdelantoExpress(ctx context.Context, opID string, analystEmail string, justificacion string) (*Operacion, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database is not ready")
	}

	var op Operacion
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", opID).First(&op).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := tx.Model(&op).Update("adelanto_express", true).Error; err != nil {
			return err
		}
		gestion := Gestion{
			IdOperacion:   opID,
			AnalistaEmail: analystEmail,
			Tipo:          "Adelanto Express",
			Resultado:     "Movido a cola de Adelanto",
			Notas:         justificacion,
		}
		return tx.Create(&gestion).Error
	})
	if err != nil {
		return nil, err
	}
	op.AdelantoExpress = true
	return &op, nil
}

// CompleteOperacion marks an operation as finished so the queues stop showing
// it. Completada is terminal.
func CompleteOperacion(ctx context.Context, opID string) error {
	db := config.GetDB()
	if db == nil {
		return errors.New("database is not ready")
	}

	result := db.WithContext(ctx).Model(&Operacion{}).
		Where("id = ?", opID).
		Update("estado", EstadoOperacionCompletada)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

// UpdateFacturaEstado sets the verification verdict on one invoice line and
// recomputes the parent operation's state from all of its lines.
func UpdateFacturaEstado(ctx context.Context, opID string, folio string, estado EstadoFactura) (*Factura, EstadoOperacion, error) {
	db := config.GetDB()
	if db == nil {
		return nil, "", errors.New("database is not ready")
	}
	if !estado.IsValid() {
		return nil, "", errors.New("estado de factura inválido")
	}

	var (
		factura   Factura
		newEstado EstadoOperacion
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id_operacion = ? AND numero_documento = ?", opID, folio).First(&factura).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if err := tx.Model(&factura).Update("estado", estado).Error; err != nil {
			return err
		}
		factura.Estado = estado

		var op Operacion
		if err := tx.Where("id = ?", opID).First(&op).Error; err != nil {
			return err
		}
		var facturas []Factura
		if err := tx.Where("id_operacion = ?", opID).Find(&facturas).Error; err != nil {
			return err
		}
		newEstado = RecomputeOperationStatus(op.Estado, facturas)
		if newEstado != op.Estado {
			if err := tx.Model(&op).Update("estado", newEstado).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &factura, newEstado, nil
}
