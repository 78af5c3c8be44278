package match

import (
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
)

// CheckCandidate applies the confirm guards to a candidate built from freshly
// loaded records: shape, inflow-only entries, availability and balance.
func CheckCandidate(c model.CandidateLink, tolerance decimal.Decimal) error {
	snap := Snapshot{
		Sales:       make(map[string]model.Sale, len(c.Sales)),
		BankEntries: make(map[string]model.BankEntry, len(c.BankEntries)),
	}
	for _, s := range c.Sales {
		snap.Sales[s.ID] = s
	}
	for _, b := range c.BankEntries {
		snap.BankEntries[b.ID] = b
	}

	if err := validateShape(c.SaleIDs(), c.BankEntryIDs()); err != nil {
		return err
	}
	saleTotal, bankTotal, err := memberTotals(snap, c.SaleIDs(), c.BankEntryIDs())
	if err != nil {
		return err
	}
	if conflict := confirmedElsewhere(snap, c.SaleIDs(), c.BankEntryIDs(), ""); conflict != nil {
		return conflict
	}
	if !Balanced(saleTotal, bankTotal, tolerance) {
		return &common.AmountMismatchError{SaleTotal: saleTotal, BankTotal: bankTotal, Tolerance: tolerance}
	}
	return nil
}
