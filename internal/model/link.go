package model

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LinkStatus is the lifecycle state of a reconciliation link.
type LinkStatus string

// Link status constants.
const (
	LinkNone      LinkStatus = ""
	LinkProposed  LinkStatus = "proposed"
	LinkConfirmed LinkStatus = "confirmed"
	LinkRejected  LinkStatus = "rejected"
	LinkReversed  LinkStatus = "reversed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s LinkStatus) IsTerminal() bool {
	return s == LinkRejected || s == LinkReversed
}

func (s LinkStatus) String() string {
	if s == LinkNone {
		return "none"
	}
	return string(s)
}

// MatchMethod records who produced the match.
type MatchMethod string

// Match methods.
const (
	MethodAuto   MatchMethod = "auto"
	MethodManual MatchMethod = "manual"
)

// MatchPass identifies the generator pass (or manual construction) behind a candidate.
type MatchPass string

// Match passes.
const (
	PassExact     MatchPass = "exact"
	PassAggregate MatchPass = "aggregate"
	PassManual    MatchPass = "manual"
)

// RecordVersion pins the version of a member record seen when a link was proposed.
type RecordVersion struct {
	Kind    RecordKind
	ID      string
	Version int64
}

// ReconciliationLink associates sales with the bank entries that settled them.
type ReconciliationLink struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time
	ResolvedAt   *time.Time
	ID           string
	CandidateKey string
	Method       MatchMethod
	Pass         MatchPass
	Status       LinkStatus
	CreatedBy    string
	ConfirmedBy  string
	ResolvedBy   string
	Reason       string
	SupersededBy string
	SaleIDs      []string
	BankEntryIDs []string
	Versions     []RecordVersion
	SaleTotal    decimal.Decimal
	BankTotal    decimal.Decimal
	Confidence   float64
}

// Total returns the matched amount. For a balanced link both sides agree.
func (l ReconciliationLink) Total() decimal.Decimal {
	return decimal.Min(l.SaleTotal, l.BankTotal)
}

// IsAggregate reports whether either side holds more than one record.
func (l ReconciliationLink) IsAggregate() bool {
	return len(l.SaleIDs) > 1 || len(l.BankEntryIDs) > 1
}

// Contains reports whether the link references the given record.
func (l ReconciliationLink) Contains(kind RecordKind, id string) bool {
	ids := l.SaleIDs
	if kind == KindBankEntry {
		ids = l.BankEntryIDs
	}
	for _, member := range ids {
		if member == id {
			return true
		}
	}
	return false
}

// CandidateKey derives a stable key for a set of member records so that the same
// pairing always maps to the same key regardless of order.
func CandidateKey(saleIDs, bankEntryIDs []string) string {
	sales := append([]string(nil), saleIDs...)
	entries := append([]string(nil), bankEntryIDs...)
	sort.Strings(sales)
	sort.Strings(entries)

	var b strings.Builder
	writeKeyPart(&b, 's', sales)
	writeKeyPart(&b, 'b', entries)
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// writeKeyPart length-prefixes every id so no id can pass for a separator.
func writeKeyPart(b *strings.Builder, side byte, ids []string) {
	fmt.Fprintf(b, "%c%d;", side, len(ids))
	for _, id := range ids {
		fmt.Fprintf(b, "%d:%s", len(id), id)
	}
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T
	Page     int
	PageSize int
	Total    int
}

// HasNext reports whether another page follows.
func (p Page[T]) HasNext() bool {
	return p.Page*p.PageSize < p.Total
}
