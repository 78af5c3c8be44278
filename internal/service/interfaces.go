// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// LinkFilter narrows link listings.
type LinkFilter struct {
	Status model.LinkStatus
	Limit  int
	Offset int
}

// LedgerStore defines the contract for our persistence layer.
type LedgerStore interface {
	// Reconciliation reads
	ListUnreconciledSales(ctx context.Context, asOf time.Time) ([]model.Sale, error)
	ListUnreconciledInflows(ctx context.Context, asOf time.Time) ([]model.BankEntry, error)
	ListConfirmedLinks(ctx context.Context, page, pageSize int) (model.Page[model.ReconciliationLink], error)
	ListLinks(ctx context.Context, filter LinkFilter) ([]model.ReconciliationLink, error)
	ListRejectedKeys(ctx context.Context) (map[string]bool, error)
	GetLink(ctx context.Context, id string) (*model.ReconciliationLink, error)
	GetSales(ctx context.Context, ids []string) ([]model.Sale, error)
	GetBankEntries(ctx context.Context, ids []string) ([]model.BankEntry, error)
	ListAuditEntries(ctx context.Context, linkID string) ([]model.AuditEntry, error)

	// AtomicApply executes a state machine transition together with every
	// record update and audit append it implies, as a single unit.
	AtomicApply(ctx context.Context, transition model.Transition) (*model.ReconciliationLink, error)

	// Records owned by the sales and banking workflows
	SaveSales(ctx context.Context, sales []model.Sale) error
	SaveBankEntries(ctx context.Context, entries []model.BankEntry) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Locker serializes work on a set of record keys across processes.
type Locker interface {
	// Lock acquires every key or none. The returned release func must be called
	// once the guarded operation has finished.
	Lock(ctx context.Context, keys []string) (release func(), err error)
}

// SessionSummary reports the outcome of a reconciliation session.
type SessionSummary struct {
	Candidates   []model.CandidateLink
	AutoAccepted []model.ReconciliationLink
	Eligible     int
	Skipped      int
	Failed       int
	Duration     time.Duration
	// AutoAcceptRan is set when eligible candidates were put to the auto-accept policy.
	AutoAcceptRan bool
}
