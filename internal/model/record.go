// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconciliationStatus describes how far a record is covered by a confirmed link.
// It is always derived from confirmed-link membership and never stored.
type ReconciliationStatus string

// Reconciliation status constants.
const (
	StatusUnreconciled        ReconciliationStatus = "unreconciled"
	StatusPartiallyReconciled ReconciliationStatus = "partially-reconciled"
	StatusReconciled          ReconciliationStatus = "reconciled"
)

// Direction indicates whether a bank entry moved money in or out.
type Direction string

// Direction constants.
const (
	DirectionInflow  Direction = "inflow"
	DirectionOutflow Direction = "outflow"
)

// RecordKind distinguishes the two sides of a link.
type RecordKind string

// Record kinds.
const (
	KindSale      RecordKind = "sale"
	KindBankEntry RecordKind = "bank_entry"
)

// Sale is a revenue transaction recorded by the sales workflow.
type Sale struct {
	Date            time.Time
	ID              string
	ClientRef       string
	Status          ReconciliationStatus
	ConfirmedLinkID string
	LinkIDs         []string
	Amount          decimal.Decimal
	Version         int64
}

// IsReconciled reports whether the sale belongs to a confirmed link.
func (s Sale) IsReconciled() bool {
	return s.ConfirmedLinkID != ""
}

// BankEntry is a posted bank statement line.
type BankEntry struct {
	PostedAt        time.Time
	ID              string
	Description     string
	Direction       Direction
	Status          ReconciliationStatus
	ConfirmedLinkID string
	LinkIDs         []string
	Amount          decimal.Decimal // signed as posted
	Version         int64
}

// Value returns the unsigned amount the entry contributes to a match.
func (b BankEntry) Value() decimal.Decimal {
	return b.Amount.Abs()
}

// IsInflow reports whether the entry is eligible for matching against sales.
func (b BankEntry) IsInflow() bool {
	return b.Direction == DirectionInflow
}

// IsReconciled reports whether the entry belongs to a confirmed link.
func (b BankEntry) IsReconciled() bool {
	return b.ConfirmedLinkID != ""
}
