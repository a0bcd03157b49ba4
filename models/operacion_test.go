package models

import "testing"

func TestRecomputeOperationStatus(t *testing.T) {
	cases := []struct {
		name    string
		current EstadoOperacion
		estados []EstadoFactura
		want    EstadoOperacion
	}{
		{
			"any rejection wins",
			EstadoOperacionEnVerificacion,
			[]EstadoFactura{EstadoFacturaVerificada, EstadoFacturaRechazada, EstadoFacturaEnVerificacion},
			EstadoOperacionDiscrepancia,
		},
		{
			"all verified",
			EstadoOperacionEnVerificacion,
			[]EstadoFactura{EstadoFacturaVerificada, EstadoFacturaVerificada},
			EstadoOperacionConforme,
		},
		{
			"mixed stays in verification",
			EstadoOperacionDiscrepancia,
			[]EstadoFactura{EstadoFacturaVerificada, EstadoFacturaEnVerificacion},
			EstadoOperacionEnVerificacion,
		},
		{
			"rejection recovers to conforme after re-verification",
			EstadoOperacionDiscrepancia,
			[]EstadoFactura{EstadoFacturaVerificada, EstadoFacturaVerificada},
			EstadoOperacionConforme,
		},
		{
			"completada is terminal",
			EstadoOperacionCompletada,
			[]EstadoFactura{EstadoFacturaRechazada},
			EstadoOperacionCompletada,
		},
		{
			"no lines stays in verification",
			EstadoOperacionEnVerificacion,
			nil,
			EstadoOperacionEnVerificacion,
		},
	}

	for _, tc := range cases {
		facturas := make([]Factura, len(tc.estados))
		for i, e := range tc.estados {
			facturas[i] = Factura{Estado: e}
		}
		if got := RecomputeOperationStatus(tc.current, facturas); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestExecutiveNameFromEmail(t *testing.T) {
	cases := []struct {
		email string
		want  string
	}{
		{"ana.perez@capitalexpress.cl", "Ana Perez"},
		{"kevin@capitalexpress.cl", "Kevin"},
		{"maria.jose.rojas@example.com", "Maria Jose Rojas"},
		{"noatsign", "Noatsign"},
	}
	for _, tc := range cases {
		if got := ExecutiveNameFromEmail(tc.email); got != tc.want {
			t.Errorf("ExecutiveNameFromEmail(%q) = %q, want %q", tc.email, got, tc.want)
		}
	}
}

func TestOperationMetadataPrincipalAccount(t *testing.T) {
	var empty OperationMetadata
	if empty.PrincipalAccount() != nil {
		t.Fatal("no accounts means no principal account")
	}

	meta := OperationMetadata{CuentasDesembolso: []CuentaDesembolso{
		{Banco: "BCP", Numero: "193-1"},
		{Banco: "BBVA", Numero: "011-2"},
	}}
	principal := meta.PrincipalAccount()
	if principal == nil || principal.Banco != "BCP" {
		t.Fatalf("expected first account as principal, got %+v", principal)
	}
}
