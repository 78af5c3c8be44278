// Package match implements the reconciliation link lifecycle as pure functions
// over a ledger snapshot. Persistence happens elsewhere; this package only
// decides what a transition means and whether it is allowed.
package match

import (
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
)

// Balanced reports whether two sides agree within tolerance.
func Balanced(saleTotal, bankTotal, tolerance decimal.Decimal) bool {
	return saleTotal.Sub(bankTotal).Abs().LessThanOrEqual(tolerance.Abs())
}

// DeriveStatus computes a record's reconciliation status from the confirmed
// link it belongs to, if any. A side that is larger than its counterpart
// (only possible with a non-zero tolerance) is partially reconciled.
func DeriveStatus(kind model.RecordKind, confirmed *model.ReconciliationLink) model.ReconciliationStatus {
	if confirmed == nil || confirmed.Status != model.LinkConfirmed {
		return model.StatusUnreconciled
	}

	own, counter := confirmed.SaleTotal, confirmed.BankTotal
	if kind == model.KindBankEntry {
		own, counter = counter, own
	}
	if own.GreaterThan(counter) {
		return model.StatusPartiallyReconciled
	}
	return model.StatusReconciled
}
