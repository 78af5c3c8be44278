package model

import (
	"github.com/shopspring/decimal"
)

// CandidateLink is a proposed pairing not yet decided by an operator.
// LinkID is empty until the candidate has been persisted as a proposed link.
type CandidateLink struct {
	LinkID       string
	Key          string
	Method       MatchMethod
	Pass         MatchPass
	Sales        []Sale
	BankEntries  []BankEntry
	SaleTotal    decimal.Decimal
	BankTotal    decimal.Decimal
	Score        float64
	DateDistance float64 // mean distance in days between the two sides
}

// NewCandidate builds a candidate with its totals and key filled in.
func NewCandidate(sales []Sale, entries []BankEntry, method MatchMethod, pass MatchPass) CandidateLink {
	c := CandidateLink{
		Method:      method,
		Pass:        pass,
		Sales:       sales,
		BankEntries: entries,
		SaleTotal:   decimal.Zero,
		BankTotal:   decimal.Zero,
	}
	for _, s := range sales {
		c.SaleTotal = c.SaleTotal.Add(s.Amount)
	}
	for _, b := range entries {
		c.BankTotal = c.BankTotal.Add(b.Value())
	}
	c.Key = CandidateKey(c.SaleIDs(), c.BankEntryIDs())
	return c
}

// SaleIDs returns the member sale identifiers in candidate order.
func (c CandidateLink) SaleIDs() []string {
	ids := make([]string, len(c.Sales))
	for i, s := range c.Sales {
		ids[i] = s.ID
	}
	return ids
}

// BankEntryIDs returns the member bank entry identifiers in candidate order.
func (c CandidateLink) BankEntryIDs() []string {
	ids := make([]string, len(c.BankEntries))
	for i, b := range c.BankEntries {
		ids[i] = b.ID
	}
	return ids
}

// RecordCount is the combined number of records on both sides.
func (c CandidateLink) RecordCount() int {
	return len(c.Sales) + len(c.BankEntries)
}

// IsAggregate reports whether either side holds more than one record.
func (c CandidateLink) IsAggregate() bool {
	return len(c.Sales) > 1 || len(c.BankEntries) > 1
}

// Versions captures the member record versions seen by the candidate.
func (c CandidateLink) Versions() []RecordVersion {
	versions := make([]RecordVersion, 0, c.RecordCount())
	for _, s := range c.Sales {
		versions = append(versions, RecordVersion{Kind: KindSale, ID: s.ID, Version: s.Version})
	}
	for _, b := range c.BankEntries {
		versions = append(versions, RecordVersion{Kind: KindBankEntry, ID: b.ID, Version: b.Version})
	}
	return versions
}
