package models

// EstadoOperacion is the lifecycle state of an Operacion.
type EstadoOperacion string

const (
	EstadoOperacionEnVerificacion EstadoOperacion = "En Verificación"
	EstadoOperacionDiscrepancia   EstadoOperacion = "Discrepancia"
	EstadoOperacionConforme       EstadoOperacion = "Conforme"
	EstadoOperacionCompletada     EstadoOperacion = "Completada"
)

func (e EstadoOperacion) IsValid() bool {
	switch e {
	case EstadoOperacionEnVerificacion, EstadoOperacionDiscrepancia,
		EstadoOperacionConforme, EstadoOperacionCompletada:
		return true
	}
	return false
}

// EstadoFactura is the verification state of one invoice line.
type EstadoFactura string

const (
	EstadoFacturaEnVerificacion EstadoFactura = "En Verificación"
	EstadoFacturaVerificada     EstadoFactura = "Verificada"
	EstadoFacturaRechazada      EstadoFactura = "Rechazada"
)

func (e EstadoFactura) IsValid() bool {
	switch e {
	case EstadoFacturaEnVerificacion, EstadoFacturaVerificada, EstadoFacturaRechazada:
		return true
	}
	return false
}

// Moneda is an accepted billing currency. Submissions carrying anything else
// are rejected before an Operacion is created.
type Moneda string

const (
	MonedaPEN Moneda = "PEN"
	MonedaUSD Moneda = "USD"
	MonedaEUR Moneda = "EUR"
)

func (m Moneda) IsValid() bool {
	switch m {
	case MonedaPEN, MonedaUSD, MonedaEUR:
		return true
	}
	return false
}

// TipoGestion classifies a follow-up entry on an operation.
type TipoGestion string

const (
	TipoGestionLlamada    TipoGestion = "Llamada"
	TipoGestionCorreo     TipoGestion = "Correo"
	TipoGestionNota       TipoGestion = "Nota"
	TipoGestionComentario TipoGestion = "Comentario"
)

func (t TipoGestion) IsValid() bool {
	switch t {
	case TipoGestionLlamada, TipoGestionCorreo, TipoGestionNota, TipoGestionComentario:
		return true
	}
	return false
}
