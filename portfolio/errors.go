package portfolio

import (
	"errors"
	"fmt"

	"github.com/ledgerfolio/engine/money"
)

// DataValidationError reports an invalid field on a trade, snapshot, or
// other domain value, before any mutation took place.
type DataValidationError struct {
	Field  string
	Reason string
}

func (e *DataValidationError) Error() string {
	return fmt.Sprintf("portfolio: invalid %s: %s", e.Field, e.Reason)
}

// DataNotFoundError reports a missing ticker, snapshot, or fund.
type DataNotFoundError struct {
	Kind string // "ticker", "snapshot", "fund", ...
	Key  string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("portfolio: %s not found: %s", e.Kind, e.Key)
}

// DataCorruptionError reports duplicate snapshots, derived-field mismatches
// beyond tolerance, or an unsatisfiable historical SELL during replay.
type DataCorruptionError struct {
	Fund    string
	Reason  string
}

func (e *DataCorruptionError) Error() string {
	return fmt.Sprintf("portfolio: data corruption in fund %s: %s", e.Fund, e.Reason)
}

// RepositoryError wraps a lower-level storage failure (disk I/O, SQL
// driver error) with the operation that triggered it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string { return fmt.Sprintf("portfolio: repository %s: %v", e.Op, e.Err) }
func (e *RepositoryError) Unwrap() error { return e.Err }

// InsufficientShares reports a sell that exceeds the shares held in the
// current snapshot (distinct from lots.InsufficientShares, which is raised
// by FIFO replay against the lot ledger).
type InsufficientShares struct {
	Ticker    string
	Requested money.Quantity
	Available money.Quantity
}

func (e *InsufficientShares) Error() string {
	return fmt.Sprintf("portfolio: insufficient shares of %s: requested %s, have %s", e.Ticker, e.Requested, e.Available)
}

// InsufficientFunds is advisory: callers may proceed after logging it
// unless they explicitly enforce fund sufficiency.
type InsufficientFunds struct {
	Fund      string
	Requested money.Money
	Available money.Money
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("portfolio: fund %s may be short: requested %s, have %s", e.Fund, e.Requested, e.Available)
}

// Warning is a non-fatal advisory attached to an otherwise successful
// trade, surfaced to the caller rather than logged and discarded.
type Warning struct {
	Reason string
}

func (w *Warning) String() string { return w.Reason }

// InvalidTrade reports a structurally invalid trade request (e.g. zero
// shares or a negative price) rejected before persistence.
type InvalidTrade struct {
	Reason string
}

func (e *InvalidTrade) Error() string { return "portfolio: invalid trade: " + e.Reason }

// IsDataCorruption reports whether err (or anything it wraps) is a
// DataCorruptionError, for mapping to the CLI's data-corruption exit code.
func IsDataCorruption(err error) bool {
	var e *DataCorruptionError
	return errors.As(err, &e)
}

// IsValidationError reports whether err (or anything it wraps) is one of
// the validation-style errors raised before any mutation took place, for
// mapping to the CLI's validation exit code.
func IsValidationError(err error) bool {
	var v *DataValidationError
	var t *InvalidTrade
	var s *InsufficientShares
	return errors.As(err, &v) || errors.As(err, &t) || errors.As(err, &s)
}
