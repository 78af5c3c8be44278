package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditAmount snapshots one member record's amount at transition time.
type AuditAmount struct {
	Kind   RecordKind      `json:"kind"`
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// AuditEntry is an immutable record of a single link transition.
type AuditEntry struct {
	At        time.Time
	ID        string
	LinkID    string
	From      LinkStatus
	To        LinkStatus
	Actor     string
	Reason    string
	Amounts   []AuditAmount
	SaleTotal decimal.Decimal
	BankTotal decimal.Decimal
}
