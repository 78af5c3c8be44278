// Package engine implements candidate generation and the reconciliation
// session that drives links through their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/match"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SystemActor is recorded for transitions no operator asked for.
const SystemActor = "system"

// Config holds configuration options for the reconciliation coordinator.
type Config struct {
	Tolerance           decimal.Decimal
	WindowDays          int
	MaxAggregateSize    int
	MaxPool             int
	AutoAcceptThreshold float64
	AutoAccept          bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	params := DefaultParams()
	return Config{
		WindowDays:          params.WindowDays,
		Tolerance:           params.Tolerance,
		MaxAggregateSize:    params.MaxAggregateSize,
		MaxPool:             params.MaxPool,
		AutoAcceptThreshold: 0.95,
	}
}

// Coordinator orchestrates reconciliation sessions over a ledger store.
type Coordinator struct {
	store    service.LedgerStore
	locker   service.Locker
	observer AutoAcceptObserver
	tracer   trace.Tracer
	now      func() time.Time
	config   Config
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLocker guards mutations with a cross-process record lock.
func WithLocker(locker service.Locker) Option {
	return func(c *Coordinator) {
		c.locker = locker
	}
}

// WithClock overrides the time source used for transitions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithAutoAcceptObserver registers a callback for auto-accept progress.
func WithAutoAcceptObserver(observer AutoAcceptObserver) Option {
	return func(c *Coordinator) {
		c.observer = observer
	}
}

// New creates a coordinator with the default configuration.
func New(store service.LedgerStore, opts ...Option) *Coordinator {
	return NewWithConfig(store, DefaultConfig(), opts...)
}

// NewWithConfig creates a coordinator with custom configuration.
func NewWithConfig(store service.LedgerStore, config Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		config: config,
		tracer: otel.Tracer("github.com/Veraticus/tally/internal/engine"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the coordinator's configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// SuggestOptions overrides generation settings for one call.
type SuggestOptions struct {
	AsOf       time.Time
	WindowDays *int
	Tolerance  *decimal.Decimal
	Actor      string
}

// GetSuggestions generates candidates from the current unreconciled records
// and persists each as a proposed link. Returned candidates carry their link id.
func (c *Coordinator) GetSuggestions(ctx context.Context, opts SuggestOptions) ([]model.CandidateLink, error) {
	ctx, span := c.tracer.Start(ctx, "GetSuggestions")
	defer span.End()

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = c.now()
	}
	actor := opts.Actor
	if actor == "" {
		actor = SystemActor
	}

	params := c.params()
	if opts.WindowDays != nil {
		params.WindowDays = *opts.WindowDays
	}
	if opts.Tolerance != nil {
		params.Tolerance = *opts.Tolerance
	}

	sales, err := c.store.ListUnreconciledSales(ctx, asOf)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to load unreconciled sales: %w", err))
	}
	entries, err := c.store.ListUnreconciledInflows(ctx, asOf)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to load unreconciled inflows: %w", err))
	}
	params.Exclude, err = c.store.ListRejectedKeys(ctx)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("failed to load rejected candidates: %w", err))
	}

	generated := NewGenerator(params).Generate(sales, entries)
	span.SetAttributes(
		attribute.Int("sales", len(sales)),
		attribute.Int("inflows", len(entries)),
		attribute.Int("candidates", len(generated)),
	)

	suggestions := make([]model.CandidateLink, 0, len(generated))
	for _, candidate := range generated {
		candidate := candidate
		link, err := c.store.AtomicApply(ctx, model.Transition{
			Kind:      model.TransitionPropose,
			Candidate: &candidate,
			Actor:     actor,
			At:        c.now(),
		})
		if err != nil {
			// A record confirmed since the snapshot was read is not a failure.
			if common.IsRetryable(err) {
				common.LogDebug(ctx, "Dropping suggestion for records reconciled meanwhile", common.Fields{
					"key":   candidate.Key,
					"error": err,
				})
				continue
			}
			return nil, endSpan(span, fmt.Errorf("failed to propose candidate: %w", err))
		}
		candidate.LinkID = link.ID
		suggestions = append(suggestions, candidate)
	}

	slog.Info("Generated suggestions",
		"as_of", asOf.Format(time.DateOnly),
		"sales", len(sales),
		"inflows", len(entries),
		"suggestions", len(suggestions))

	return suggestions, nil
}

// ConfirmCandidate confirms a proposed link, or proposes and confirms an
// unpersisted candidate in one step.
func (c *Coordinator) ConfirmCandidate(ctx context.Context, ref CandidateRef, actor string) (*model.ReconciliationLink, error) {
	ctx, span := c.tracer.Start(ctx, "ConfirmCandidate")
	defer span.End()

	link, err := c.apply(ctx, ref, model.Transition{
		Kind:      model.TransitionConfirm,
		Actor:     actor,
		Tolerance: c.config.Tolerance,
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("link_id", link.ID))
	return link, nil
}

// RejectCandidate rejects a proposed link. Rejecting an already rejected link succeeds.
func (c *Coordinator) RejectCandidate(ctx context.Context, ref CandidateRef, actor, reason string) error {
	ctx, span := c.tracer.Start(ctx, "RejectCandidate")
	defer span.End()

	_, err := c.apply(ctx, ref, model.Transition{
		Kind:   model.TransitionReject,
		Actor:  actor,
		Reason: reason,
	})
	return endSpan(span, err)
}

// ReverseLink undoes a confirmed link, returning its records to unreconciled.
func (c *Coordinator) ReverseLink(ctx context.Context, linkID, actor, reason string) error {
	ctx, span := c.tracer.Start(ctx, "ReverseLink")
	defer span.End()

	_, err := c.apply(ctx, RefLink(linkID), model.Transition{
		Kind:   model.TransitionReverse,
		Actor:  actor,
		Reason: reason,
	})
	return endSpan(span, err)
}

// BuildManualCandidate assembles an operator-chosen candidate. It fails if a
// record is missing, already reconciled, not an inflow, or if the two sides
// do not balance within the configured tolerance.
func (c *Coordinator) BuildManualCandidate(ctx context.Context, saleIDs, bankEntryIDs []string) (model.CandidateLink, error) {
	sales, err := c.store.GetSales(ctx, saleIDs)
	if err != nil {
		return model.CandidateLink{}, err
	}
	entries, err := c.store.GetBankEntries(ctx, bankEntryIDs)
	if err != nil {
		return model.CandidateLink{}, err
	}

	candidate := model.NewCandidate(sales, entries, model.MethodManual, model.PassManual)
	if err := match.CheckCandidate(candidate, c.config.Tolerance); err != nil {
		return model.CandidateLink{}, err
	}

	var days []member
	for _, s := range sales {
		for _, b := range entries {
			days = append(days, member{days: dayDistance(s.Date, b.PostedAt)})
		}
	}
	candidate.DateDistance = meanDays(days)
	candidate.Score = 1
	return candidate, nil
}

// AutoAcceptResult summarizes one auto-accept run.
type AutoAcceptResult struct {
	Accepted []model.ReconciliationLink
	Skipped  int
	Failed   int
}

// Eligible reports whether the auto-accept policy may confirm a candidate.
// Aggregates always need an operator.
func (c *Coordinator) Eligible(candidate model.CandidateLink) bool {
	return candidate.Pass == model.PassExact &&
		!candidate.IsAggregate() &&
		candidate.Score > c.config.AutoAcceptThreshold
}

// AutoAccept confirms every eligible candidate. Candidates whose records were
// taken or changed meanwhile are counted as failed and skipped over.
func (c *Coordinator) AutoAccept(ctx context.Context, candidates []model.CandidateLink, actor string) (AutoAcceptResult, error) {
	ctx, span := c.tracer.Start(ctx, "AutoAccept")
	defer span.End()

	if actor == "" {
		actor = SystemActor
	}

	var result AutoAcceptResult
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, endSpan(span, err)
		}
		if !c.Eligible(candidate) {
			result.Skipped++
			continue
		}

		link, err := c.ConfirmCandidate(ctx, RefCandidate(candidate), actor)
		if c.observer != nil {
			c.observer(candidate, link, err)
		}
		if err != nil {
			if common.IsRetryable(err) {
				result.Failed++
				slog.Warn("Auto-accept skipped candidate", "key", candidate.Key, "error", err)
				continue
			}
			return result, endSpan(span, fmt.Errorf("auto-accept failed: %w", err))
		}
		result.Accepted = append(result.Accepted, *link)
	}

	span.SetAttributes(
		attribute.Int("accepted", len(result.Accepted)),
		attribute.Int("failed", result.Failed),
	)
	slog.Info("Auto-accept complete",
		"accepted", len(result.Accepted),
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

// SessionOptions configures one reconciliation session.
type SessionOptions struct {
	// BeforeAutoAccept runs once the eligible candidates are counted and
	// before any is confirmed. An error aborts the session.
	BeforeAutoAccept func(ctx context.Context, eligible int) error
	Suggest          SuggestOptions
	// AutoAccept turns auto-accept on even when the configuration leaves it off.
	AutoAccept bool
}

// RunSession generates suggestions and, when enabled, auto-accepts the eligible ones.
func (c *Coordinator) RunSession(ctx context.Context, opts SessionOptions) (service.SessionSummary, error) {
	ctx, span := c.tracer.Start(ctx, "RunSession")
	defer span.End()
	start := c.now()

	candidates, err := c.GetSuggestions(ctx, opts.Suggest)
	if err != nil {
		return service.SessionSummary{}, endSpan(span, err)
	}
	summary := service.SessionSummary{Candidates: candidates, Skipped: len(candidates)}
	for _, candidate := range candidates {
		if c.Eligible(candidate) {
			summary.Eligible++
		}
	}

	auto := opts.AutoAccept || c.config.AutoAccept
	if !auto || summary.Eligible == 0 {
		summary.Duration = c.now().Sub(start)
		return summary, nil
	}
	summary.AutoAcceptRan = true

	if opts.BeforeAutoAccept != nil {
		if err := opts.BeforeAutoAccept(ctx, summary.Eligible); err != nil {
			summary.Duration = c.now().Sub(start)
			return summary, endSpan(span, err)
		}
	}

	result, err := c.AutoAccept(ctx, candidates, opts.Suggest.Actor)
	summary.AutoAccepted = result.Accepted
	summary.Skipped = result.Skipped
	summary.Failed = result.Failed
	summary.Duration = c.now().Sub(start)
	if err != nil {
		return summary, endSpan(span, err)
	}
	return summary, nil
}

// ConfirmedLinks returns one page of confirmed links.
func (c *Coordinator) ConfirmedLinks(ctx context.Context, page, pageSize int) (model.Page[model.ReconciliationLink], error) {
	return c.store.ListConfirmedLinks(ctx, page, pageSize)
}

// AuditTrail returns the recorded transitions of a link, oldest first.
func (c *Coordinator) AuditTrail(ctx context.Context, linkID string) ([]model.AuditEntry, error) {
	if _, err := c.store.GetLink(ctx, linkID); err != nil {
		return nil, err
	}
	return c.store.ListAuditEntries(ctx, linkID)
}

// apply locks the records named by ref and hands the transition to the store.
func (c *Coordinator) apply(ctx context.Context, ref CandidateRef, t model.Transition) (*model.ReconciliationLink, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: no link or candidate given", common.ErrInvalidTransition)
	}
	if t.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", common.ErrInvalidTransition)
	}
	t.LinkID = ref.LinkID
	t.Candidate = ref.Candidate

	if c.locker != nil {
		keys, err := c.lockKeys(ctx, ref)
		if err != nil {
			return nil, err
		}
		release, err := c.locker.Lock(ctx, keys)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	t.At = c.now()
	link, err := c.store.AtomicApply(ctx, t)
	if err != nil {
		logTransitionError(ctx, t, err)
		return nil, err
	}
	return link, nil
}

func (c *Coordinator) lockKeys(ctx context.Context, ref CandidateRef) ([]string, error) {
	var saleIDs, bankEntryIDs []string
	if ref.LinkID != "" {
		link, err := c.store.GetLink(ctx, ref.LinkID)
		if err != nil {
			return nil, err
		}
		saleIDs, bankEntryIDs = link.SaleIDs, link.BankEntryIDs
	} else {
		saleIDs, bankEntryIDs = ref.Candidate.SaleIDs(), ref.Candidate.BankEntryIDs()
	}

	keys := make([]string, 0, len(saleIDs)+len(bankEntryIDs))
	for _, id := range saleIDs {
		keys = append(keys, saleKey(id))
	}
	for _, id := range bankEntryIDs {
		keys = append(keys, bankKey(id))
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Coordinator) params() Params {
	return Params{
		WindowDays:       c.config.WindowDays,
		Tolerance:        c.config.Tolerance,
		MaxAggregateSize: c.config.MaxAggregateSize,
		MaxPool:          c.config.MaxPool,
	}
}

func logTransitionError(ctx context.Context, t model.Transition, err error) {
	fields := common.Fields{
		"kind":  string(t.Kind),
		"actor": t.Actor,
	}
	if t.LinkID != "" {
		fields["link_id"] = t.LinkID
	}

	var persist *common.PersistenceError
	if errors.As(err, &persist) {
		common.LogError(ctx, err, "Transition failed in the ledger store", fields)
		return
	}
	fields["error"] = err.Error()
	common.LogInfo(ctx, "Transition refused", fields)
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
