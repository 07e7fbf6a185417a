package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxBatchWrites is the largest number of writes a single commit may carry.
// It matches the Firestore per-commit limit.
const MaxBatchWrites = 500

type Kind string

const (
	KindBanks      Kind = "bancos"
	KindOperations Kind = "operacionesBancos"
)

// Fields is the payload of one remote document.
type Fields map[string]any

// Bank is the primary record. A remote copy may be updated in place.
type Bank struct {
	ID                           string              `json:"id"`
	Nombre                       string              `json:"nombre"`
	Tipo                         string              `json:"tipo,omitempty"`
	Moneda                       string              `json:"moneda,omitempty"`
	Capital                      decimal.NullDecimal `json:"capital"`
	CapitalHistorico             decimal.NullDecimal `json:"capitalHistorico"`
	TotalGastos                  decimal.NullDecimal `json:"totalGastos"`
	TotalTransferenciasEnviadas  decimal.NullDecimal `json:"totalTransferenciasEnviadas"`
	TotalTransferenciasRecibidas decimal.NullDecimal `json:"totalTransferenciasRecibidas"`
	Metadata                     map[string]any      `json:"metadata,omitempty"`
}

// Operation is the secondary record. It is created once and never updated.
type Operation struct {
	ID            string          `json:"id"`
	BancoID       string          `json:"bancoId"`
	Tipo          string          `json:"tipo,omitempty"`
	Fecha         time.Time       `json:"fecha"`
	Monto         decimal.Decimal `json:"monto"`
	Concepto      string          `json:"concepto,omitempty"`
	Origen        string          `json:"origen,omitempty"`
	Destino       string          `json:"destino,omitempty"`
	Observaciones string          `json:"observaciones,omitempty"`
}

type Snapshot struct {
	Banks      []Bank
	Operations []Operation
}

type Options struct {
	ForceOverwritePrimary bool
	DryRun                bool
}

type Result struct {
	RunID             string    `json:"run_id"`
	Created           int       `json:"created"`
	Updated           int       `json:"updated"`
	SkippedBanks      int       `json:"skipped_banks"`
	OperationsCreated int       `json:"operations_created"`
	SkippedOperations int       `json:"skipped_operations"`
	Staged            int       `json:"staged"`
	DryRun            bool      `json:"dry_run"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Label is the human readable name used in log lines.
func (b Bank) Label() string {
	if b.Nombre != "" {
		return b.Nombre
	}
	return b.ID
}

// Fields renders the bank as a merge payload. Amounts and strings missing
// from the local record are left out so a merge keeps the remote values.
func (b Bank) Fields() Fields {
	fields := Fields{"id": b.ID}
	putString(fields, "nombre", b.Nombre)
	putString(fields, "tipo", b.Tipo)
	putString(fields, "moneda", b.Moneda)
	putAmount(fields, "capital", b.Capital)
	putAmount(fields, "capitalHistorico", b.CapitalHistorico)
	putAmount(fields, "totalGastos", b.TotalGastos)
	putAmount(fields, "totalTransferenciasEnviadas", b.TotalTransferenciasEnviadas)
	putAmount(fields, "totalTransferenciasRecibidas", b.TotalTransferenciasRecibidas)
	if len(b.Metadata) > 0 {
		fields["metadata"] = b.Metadata
	}
	return fields
}

func (o Operation) Label() string {
	if o.Concepto != "" {
		return o.Concepto
	}
	return o.ID
}

// Fields renders the operation as a create payload. The fecha field keeps
// the record's own date as a time value so every store writes it as its
// native timestamp type.
func (o Operation) Fields() Fields {
	fields := Fields{
		"id":      o.ID,
		"bancoId": o.BancoID,
		"fecha":   o.Fecha.UTC(),
		"monto":   o.Monto.InexactFloat64(),
	}
	putString(fields, "tipo", o.Tipo)
	putString(fields, "concepto", o.Concepto)
	putString(fields, "origen", o.Origen)
	putString(fields, "destino", o.Destino)
	putString(fields, "observaciones", o.Observaciones)
	return fields
}

func putString(fields Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func putAmount(fields Fields, key string, value decimal.NullDecimal) {
	if value.Valid {
		fields[key] = value.Decimal.InexactFloat64()
	}
}
