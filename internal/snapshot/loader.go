// Package snapshot reads the local JSON export of banks and bank operations
// and turns it into a validated reconcile.Snapshot.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowsync/internal/domain/reconcile"
)

var (
	ErrEmptySnapshot = errors.New("snapshot has no banks and no operations")
	ErrInvalidDate   = errors.New("invalid fecha")
	ErrTrailingData  = errors.New("unexpected data after snapshot document")
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"20060102",
}

// Numeric fecha values are either spreadsheet serial days or epoch
// milliseconds. Anything between the two ranges is rejected.
const (
	maxSerialDay  = 100000
	minEpochMilli = 100000000000
)

var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var idReplacer = strings.NewReplacer(
	"/", "-",
	`\`, "-",
	"#", "-",
	"?", "-",
	"[", "-",
	"]", "-",
)

type document struct {
	Banks            []bankRecord      `json:"bancos"`
	Operations       []operationRecord `json:"operacionesBancos"`
	LegacyOperations []operationRecord `json:"operaciones"`
}

// bankRecord amounts are nullable so an absent key stays distinguishable
// from an explicit zero.
type bankRecord struct {
	ID                           flexString          `json:"id"`
	Nombre                       string              `json:"nombre"`
	Name                         string              `json:"name"`
	Tipo                         string              `json:"tipo"`
	Moneda                       string              `json:"moneda"`
	Capital                      decimal.NullDecimal `json:"capital"`
	CapitalHistorico             decimal.NullDecimal `json:"capitalHistorico"`
	TotalGastos                  decimal.NullDecimal `json:"totalGastos"`
	TotalTransferenciasEnviadas  decimal.NullDecimal `json:"totalTransferenciasEnviadas"`
	TotalTransferenciasRecibidas decimal.NullDecimal `json:"totalTransferenciasRecibidas"`
	Metadata                     map[string]any      `json:"metadata"`
}

type operationRecord struct {
	ID            flexString      `json:"id"`
	BancoID       flexString      `json:"bancoId"`
	Tipo          string          `json:"tipo"`
	Fecha         flexString      `json:"fecha"`
	Monto         decimal.Decimal `json:"monto"`
	Concepto      string          `json:"concepto"`
	Origen        string          `json:"origen"`
	Destino       string          `json:"destino"`
	Observaciones string          `json:"observaciones"`
}

// flexString accepts both JSON strings and numbers, as spreadsheet exports
// often carry numeric ids and epoch dates.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("must be a string or a number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// LoadFile reads and validates the snapshot stored at path.
func LoadFile(path string) (reconcile.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Path: path, Err: err}
	}
	defer file.Close()

	snap, err := Decode(file)
	if err != nil {
		var readErr *reconcile.SnapshotReadError
		if errors.As(err, &readErr) {
			readErr.Path = path
			return reconcile.Snapshot{}, readErr
		}
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Path: path, Err: err}
	}
	return snap, nil
}

// Decode parses a snapshot document. Every failure is a
// *reconcile.SnapshotReadError.
func Decode(r io.Reader) (reconcile.Snapshot, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Err: fmt.Errorf("decode json: %w", err)}
	}
	var trailing json.RawMessage
	switch err := dec.Decode(&trailing); {
	case errors.Is(err, io.EOF):
	case err != nil:
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Err: fmt.Errorf("%w: %w", ErrTrailingData, err)}
	default:
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Err: ErrTrailingData}
	}

	operations := doc.Operations
	if len(operations) == 0 {
		operations = doc.LegacyOperations
	}
	if len(doc.Banks) == 0 && len(operations) == 0 {
		return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Err: ErrEmptySnapshot}
	}

	snap := reconcile.Snapshot{
		Banks:      make([]reconcile.Bank, 0, len(doc.Banks)),
		Operations: make([]reconcile.Operation, 0, len(operations)),
	}

	for _, record := range doc.Banks {
		nombre := strings.TrimSpace(record.Nombre)
		if nombre == "" {
			nombre = strings.TrimSpace(record.Name)
		}
		snap.Banks = append(snap.Banks, reconcile.Bank{
			ID:                           SanitizeID(string(record.ID)),
			Nombre:                       nombre,
			Tipo:                         strings.TrimSpace(record.Tipo),
			Moneda:                       strings.TrimSpace(record.Moneda),
			Capital:                      record.Capital,
			CapitalHistorico:             record.CapitalHistorico,
			TotalGastos:                  record.TotalGastos,
			TotalTransferenciasEnviadas:  record.TotalTransferenciasEnviadas,
			TotalTransferenciasRecibidas: record.TotalTransferenciasRecibidas,
			Metadata:                     record.Metadata,
		})
	}

	for i, record := range operations {
		fecha, err := ParseDate(string(record.Fecha))
		if err != nil {
			return reconcile.Snapshot{}, &reconcile.SnapshotReadError{Kind: reconcile.KindOperations, Index: i, Err: err}
		}
		snap.Operations = append(snap.Operations, reconcile.Operation{
			ID:            SanitizeID(string(record.ID)),
			BancoID:       SanitizeID(string(record.BancoID)),
			Tipo:          strings.TrimSpace(record.Tipo),
			Fecha:         fecha,
			Monto:         record.Monto,
			Concepto:      strings.TrimSpace(record.Concepto),
			Origen:        strings.TrimSpace(record.Origen),
			Destino:       strings.TrimSpace(record.Destino),
			Observaciones: strings.TrimSpace(record.Observaciones),
		})
	}

	if err := reconcile.Validate(snap); err != nil {
		return reconcile.Snapshot{}, err
	}
	return snap, nil
}

// SanitizeID makes an id safe to use as a document key.
func SanitizeID(id string) string {
	return strings.TrimSpace(idReplacer.Replace(strings.TrimSpace(id)))
}

// ParseDate accepts the date layouts found in FlowDistributor exports,
// spreadsheet serial days and epoch milliseconds. Dates without a zone are
// read as UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, reconcile.ErrMissingDate
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	if number, err := strconv.ParseFloat(value, 64); err == nil {
		return parseNumericDate(value, number)
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

func parseNumericDate(value string, number float64) (time.Time, error) {
	switch {
	case number > 0 && number < maxSerialDay:
		days := math.Floor(number)
		fraction := time.Duration((number - days) * float64(24*time.Hour))
		return serialEpoch.AddDate(0, 0, int(days)).Add(fraction.Round(time.Second)), nil
	case number >= minEpochMilli && number == math.Trunc(number):
		return time.UnixMilli(int64(number)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
}
