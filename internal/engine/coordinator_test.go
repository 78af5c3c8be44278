package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionDate = testutil.Jan(31)

func newTestCoordinator(t *testing.T, config Config, opts ...Option) (*Coordinator, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	opts = append([]Option{WithClock(func() time.Time { return sessionDate })}, opts...)
	return NewWithConfig(db.Storage, config, opts...), db
}

func TestCoordinator_AggregateScenario(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("A", "15000", testutil.Jan(10)), testutil.Sale("B", "10000", testutil.Jan(11)))
	db.SeedBankEntries(testutil.Inflow("X", "25000", testutil.Jan(12)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	s := suggestions[0]
	assert.NotEmpty(t, s.LinkID)
	assert.Equal(t, []string{"A", "B"}, s.SaleIDs())
	assert.InDelta(t, 0.75, s.Score, 1e-9)

	link, err := coord.ConfirmCandidate(ctx, RefCandidate(s), "alice")
	require.NoError(t, err)
	assert.Equal(t, s.LinkID, link.ID)
	assert.Equal(t, model.LinkConfirmed, link.Status)

	assert.Equal(t, model.StatusReconciled, db.MustSale("A").Status)
	assert.Equal(t, model.StatusReconciled, db.MustSale("B").Status)
	assert.Equal(t, model.StatusReconciled, db.MustBankEntry("X").Status)

	trail, err := coord.AuditTrail(ctx, link.ID)
	require.NoError(t, err)
	var confirms int
	for _, entry := range trail {
		if entry.To == model.LinkConfirmed {
			confirms++
			assert.Equal(t, "alice", entry.Actor)
			assert.Equal(t, model.LinkProposed, entry.From)
		}
	}
	assert.Equal(t, 1, confirms, "confirming emits one audit entry")

	page, err := coord.ConfirmedLinks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestCoordinator_GetSuggestionsIsIdempotent(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(5)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(6)))

	first, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	second, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].LinkID, second[0].LinkID, "open proposals are reused")
}

func TestCoordinator_SuggestOptionsOverrideConfig(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(1)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(10)))

	none, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	assert.Empty(t, none, "nine days is outside the default window")

	window := 10
	wide, err := coord.GetSuggestions(ctx, SuggestOptions{WindowDays: &window})
	require.NoError(t, err)
	require.Len(t, wide, 1)
	assert.InDelta(t, 1-9.0/11, wide[0].Score, 1e-9)
}

func TestCoordinator_SuggestToleranceAndAsOf(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "50", testutil.Jan(20)), testutil.Sale("S2", "50.25", testutil.Jan(20)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(21)))

	strict, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	assert.Empty(t, strict)

	tolerance := decimal.RequireFromString("0.50")
	early, err := coord.GetSuggestions(ctx, SuggestOptions{Tolerance: &tolerance, AsOf: testutil.Jan(20)})
	require.NoError(t, err)
	assert.Empty(t, early, "the deposit is after the as-of date")

	loose, err := coord.GetSuggestions(ctx, SuggestOptions{Tolerance: &tolerance})
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, []string{"S1", "S2"}, loose[0].SaleIDs())
	assert.Equal(t, model.PassAggregate, loose[0].Pass)
}

func TestCoordinator_ConcurrentConfirmsOverSameSale(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("A", "500", testutil.Jan(10)))
	db.SeedBankEntries(testutil.Inflow("X", "500", testutil.Jan(10)), testutil.Inflow("Y", "500", testutil.Jan(11)))

	first, err := coord.BuildManualCandidate(ctx, []string{"A"}, []string{"X"})
	require.NoError(t, err)
	second, err := coord.BuildManualCandidate(ctx, []string{"A"}, []string{"Y"})
	require.NoError(t, err)

	// Both operators have the candidates open before either confirms.
	var refs []CandidateRef
	for _, c := range []model.CandidateLink{first, second} {
		link, err := db.Storage.AtomicApply(ctx, model.Transition{Kind: model.TransitionPropose, Candidate: &c, Actor: "op"})
		require.NoError(t, err)
		refs = append(refs, RefLink(link.ID))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		success int
	)
	for i, ref := range refs {
		wg.Add(1)
		go func(actor string, ref CandidateRef) {
			defer wg.Done()
			_, err := coord.ConfirmCandidate(ctx, ref, actor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			success++
		}([]string{"alice", "bob"}[i], ref)
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	require.Len(t, errs, 1)
	var conflict *common.ConflictError
	assert.True(t, errors.As(errs[0], &conflict), "got %v", errs[0])

	sale := db.MustSale("A")
	assert.Equal(t, model.StatusReconciled, sale.Status)
	page, err := coord.ConfirmedLinks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total, "the sale is never double-booked")
}

func TestCoordinator_ReversalRoundTrip(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "250", testutil.Jan(3)))
	db.SeedBankEntries(testutil.Inflow("B1", "250", testutil.Jan(4)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	key := suggestions[0].Key

	link, err := coord.ConfirmCandidate(ctx, RefLink(suggestions[0].LinkID), "alice")
	require.NoError(t, err)

	require.NoError(t, coord.ReverseLink(ctx, link.ID, "bob", "deposit bounced"))
	assert.Equal(t, model.StatusUnreconciled, db.MustSale("S1").Status)
	assert.Equal(t, model.StatusUnreconciled, db.MustBankEntry("B1").Status)

	page, err := coord.ConfirmedLinks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total, "no dangling confirmed link")

	again, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, key, again[0].Key, "the same candidate is proposed again")
	assert.NotEqual(t, link.ID, again[0].LinkID)

	err = coord.ReverseLink(ctx, link.ID, "bob", "twice")
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestCoordinator_RejectedCandidatesAreNotResuggested(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "80", testutil.Jan(10)), testutil.Sale("S2", "80", testutil.Jan(12)))
	db.SeedBankEntries(testutil.Inflow("B1", "80", testutil.Jan(10)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, []string{"S1"}, suggestions[0].SaleIDs())

	ref := RefCandidate(suggestions[0])
	require.NoError(t, coord.RejectCandidate(ctx, ref, "alice", "different client"))
	require.NoError(t, coord.RejectCandidate(ctx, ref, "alice", "different client"), "rejecting twice succeeds")

	next, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, []string{"S2"}, next[0].SaleIDs())
}

func TestCoordinator_BuildManualCandidate(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "60", testutil.Jan(1)), testutil.Sale("S2", "40", testutil.Jan(20)))
	db.SeedBankEntries(
		testutil.Inflow("B1", "100", testutil.Jan(25)),
		testutil.Inflow("B2", "99", testutil.Jan(25)),
		testutil.Outflow("O1", "100", testutil.Jan(25)),
	)

	tests := []struct {
		check   func(*testing.T, model.CandidateLink, error)
		name    string
		sales   []string
		entries []string
	}{
		{
			name:    "balanced across a wide date gap",
			sales:   []string{"S1", "S2"},
			entries: []string{"B1"},
			check: func(t *testing.T, c model.CandidateLink, err error) {
				t.Helper()
				require.NoError(t, err)
				assert.Equal(t, model.MethodManual, c.Method)
				assert.Equal(t, model.PassManual, c.Pass)
				assert.Empty(t, c.LinkID)
			},
		},
		{
			name:    "amounts do not add up",
			sales:   []string{"S1", "S2"},
			entries: []string{"B2"},
			check: func(t *testing.T, _ model.CandidateLink, err error) {
				t.Helper()
				var mismatch *common.AmountMismatchError
				require.ErrorAs(t, err, &mismatch)
				assert.True(t, decimal.NewFromInt(1).Equal(mismatch.Difference()))
			},
		},
		{
			name:    "missing record",
			sales:   []string{"S9"},
			entries: []string{"B1"},
			check: func(t *testing.T, _ model.CandidateLink, err error) {
				t.Helper()
				var notFound *common.NotFoundError
				require.ErrorAs(t, err, &notFound)
			},
		},
		{
			name:    "outflow",
			sales:   []string{"S1", "S2"},
			entries: []string{"O1"},
			check: func(t *testing.T, _ model.CandidateLink, err error) {
				t.Helper()
				require.ErrorIs(t, err, common.ErrInvalidCandidate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := coord.BuildManualCandidate(ctx, tt.sales, tt.entries)
			tt.check(t, c, err)
		})
	}

	t.Run("confirmed manual candidate", func(t *testing.T) {
		c, err := coord.BuildManualCandidate(ctx, []string{"S1", "S2"}, []string{"B1"})
		require.NoError(t, err)
		link, err := coord.ConfirmCandidate(ctx, RefCandidate(c), "alice")
		require.NoError(t, err)
		assert.Equal(t, model.MethodManual, link.Method)

		_, err = coord.BuildManualCandidate(ctx, []string{"S1", "S2"}, []string{"B1"})
		var conflict *common.ConflictError
		require.ErrorAs(t, err, &conflict)
	})
}

func TestCoordinator_AutoAccept(t *testing.T) {
	config := DefaultConfig()
	config.AutoAccept = true

	var observed []string
	coord, db := newTestCoordinator(t, config, WithAutoAcceptObserver(
		func(c model.CandidateLink, _ *model.ReconciliationLink, _ error) {
			observed = append(observed, c.Key)
		}))
	ctx := context.Background()

	db.SeedSales(
		testutil.Sale("same-day", "100", testutil.Jan(5)),
		testutil.Sale("two-days", "200", testutil.Jan(5)),
		testutil.Sale("A", "15000", testutil.Jan(10)),
		testutil.Sale("B", "10000", testutil.Jan(11)),
	)
	db.SeedBankEntries(
		testutil.Inflow("B-same", "100", testutil.Jan(5)),
		testutil.Inflow("B-two", "200", testutil.Jan(7)),
		testutil.Inflow("X", "25000", testutil.Jan(10)),
	)

	var hookEligible int
	summary, err := coord.RunSession(ctx, SessionOptions{
		BeforeAutoAccept: func(_ context.Context, eligible int) error {
			hookEligible = eligible
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, summary.Candidates, 3)
	assert.True(t, summary.AutoAcceptRan)
	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 1, hookEligible)
	require.Len(t, summary.AutoAccepted, 1, "only a same-day exact match clears 0.95")
	assert.Equal(t, []string{"same-day"}, summary.AutoAccepted[0].SaleIDs)
	assert.Equal(t, SystemActor, summary.AutoAccepted[0].ConfirmedBy)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Len(t, observed, 1)

	// The aggregate still waits for an operator.
	assert.Equal(t, model.StatusUnreconciled, db.MustSale("A").Status)
}

func TestCoordinator_RunSessionOptions(t *testing.T) {
	seed := func(db *testutil.TestDB) {
		db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(5)))
		db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(5)))
	}

	t.Run("proposes only when auto-accept is off", func(t *testing.T) {
		coord, db := newTestCoordinator(t, DefaultConfig())
		seed(db)

		summary, err := coord.RunSession(context.Background(), SessionOptions{
			Suggest: SuggestOptions{Actor: "alice"},
			BeforeAutoAccept: func(context.Context, int) error {
				t.Fatal("hook must not run without auto-accept")
				return nil
			},
		})
		require.NoError(t, err)
		assert.False(t, summary.AutoAcceptRan)
		assert.Equal(t, 1, summary.Eligible)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, model.StatusUnreconciled, db.MustSale("S1").Status)
	})

	t.Run("forced auto-accept records the actor", func(t *testing.T) {
		coord, db := newTestCoordinator(t, DefaultConfig())
		seed(db)

		summary, err := coord.RunSession(context.Background(), SessionOptions{
			Suggest:    SuggestOptions{Actor: "alice"},
			AutoAccept: true,
		})
		require.NoError(t, err)
		require.Len(t, summary.AutoAccepted, 1)
		assert.Equal(t, "alice", summary.AutoAccepted[0].ConfirmedBy)
		assert.Equal(t, model.StatusReconciled, db.MustSale("S1").Status)
	})

	t.Run("hook error stops before confirming", func(t *testing.T) {
		coord, db := newTestCoordinator(t, DefaultConfig())
		seed(db)
		hookErr := errors.New("checkpoint failed")

		summary, err := coord.RunSession(context.Background(), SessionOptions{
			AutoAccept:       true,
			BeforeAutoAccept: func(context.Context, int) error { return hookErr },
		})
		require.ErrorIs(t, err, hookErr)
		assert.Empty(t, summary.AutoAccepted)
		assert.Equal(t, model.StatusUnreconciled, db.MustSale("S1").Status)
	})
}

func TestCoordinator_AutoAcceptCountsConflicts(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(5)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(5)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	// An operator confirms first.
	_, err = coord.ConfirmCandidate(ctx, RefLink(suggestions[0].LinkID), "alice")
	require.NoError(t, err)

	result, err := coord.AutoAccept(ctx, suggestions, "")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Equal(t, 1, result.Failed)
}

func TestCoordinator_StaleAfterRecordEdit(t *testing.T) {
	coord, db := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(5)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(5)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	edited := testutil.Sale("S1", "100", testutil.Jan(5))
	edited.ClientRef = "renamed client"
	db.SeedSales(edited)

	_, err = coord.ConfirmCandidate(ctx, RefLink(suggestions[0].LinkID), "alice")
	var stale *common.StaleCandidateError
	require.ErrorAs(t, err, &stale)
	assert.True(t, common.IsRetryable(err))

	// A fresh suggestion replaces the stale proposal and confirms cleanly.
	fresh, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.NotEqual(t, suggestions[0].LinkID, fresh[0].LinkID)

	_, err = coord.ConfirmCandidate(ctx, RefLink(fresh[0].LinkID), "alice")
	require.NoError(t, err)
}

func TestCoordinator_RefValidation(t *testing.T) {
	coord, _ := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	_, err := coord.ConfirmCandidate(ctx, CandidateRef{}, "alice")
	require.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = coord.ConfirmCandidate(ctx, RefLink("nope"), "")
	require.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = coord.AuditTrail(ctx, "nope")
	var notFound *common.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

type recordingLocker struct {
	err      error
	locked   [][]string
	released int
}

func (l *recordingLocker) Lock(_ context.Context, keys []string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, keys)
	return func() { l.released++ }, nil
}

func TestCoordinator_Locker(t *testing.T) {
	locker := &recordingLocker{}
	coord, db := newTestCoordinator(t, DefaultConfig(), WithLocker(locker))
	ctx := context.Background()

	db.SeedSales(testutil.Sale("S1", "100", testutil.Jan(5)))
	db.SeedBankEntries(testutil.Inflow("B1", "100", testutil.Jan(5)))

	suggestions, err := coord.GetSuggestions(ctx, SuggestOptions{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)

	_, err = coord.ConfirmCandidate(ctx, RefLink(suggestions[0].LinkID), "alice")
	require.NoError(t, err)
	require.Len(t, locker.locked, 1)
	assert.Equal(t, []string{"b:B1", "s:S1"}, locker.locked[0])
	assert.Equal(t, 1, locker.released)

	locker.err = &common.ConflictError{RecordIDs: []string{"S1"}}
	err = coord.ReverseLink(ctx, suggestions[0].LinkID, "alice", "oops")
	var conflict *common.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, model.StatusReconciled, db.MustSale("S1").Status, "nothing changes without the lock")
}
