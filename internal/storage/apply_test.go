package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Veraticus/tally/internal/audit"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func propose(t *testing.T, store *SQLiteStorage, c *model.CandidateLink) *model.ReconciliationLink {
	t.Helper()
	link, err := store.AtomicApply(context.Background(), model.Transition{
		Kind:      model.TransitionPropose,
		Candidate: c,
		Actor:     "system",
	})
	require.NoError(t, err)
	return link
}

func confirm(store *SQLiteStorage, linkID string) (*model.ReconciliationLink, error) {
	return store.AtomicApply(context.Background(), model.Transition{
		Kind:   model.TransitionConfirm,
		LinkID: linkID,
		Actor:  "alice",
	})
}

func TestAtomicApply_ProposeAndConfirm(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Sale{testSale("A", "15000", day(9)), testSale("B", "10000", day(10))},
		[]model.BankEntry{testInflow("X", "25000", day(11))},
	)

	proposed := propose(t, store, candidateFor(t, store, []string{"A", "B"}, []string{"X"}))
	assert.Equal(t, model.LinkProposed, proposed.Status)
	assert.NotEmpty(t, proposed.ID)

	// Proposing the same pairing again returns the open proposal.
	again := propose(t, store, candidateFor(t, store, []string{"B", "A"}, []string{"X"}))
	assert.Equal(t, proposed.ID, again.ID)

	confirmed, err := confirm(store, proposed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkConfirmed, confirmed.Status)
	assert.Equal(t, "alice", confirmed.ConfirmedBy)
	require.NotNil(t, confirmed.ConfirmedAt)

	sales, err := store.GetSales(ctx, []string{"A", "B"})
	require.NoError(t, err)
	for _, sale := range sales {
		assert.Equal(t, model.StatusReconciled, sale.Status)
		assert.Equal(t, proposed.ID, sale.ConfirmedLinkID)
		assert.Equal(t, int64(1), sale.Version)
	}
	entries, err := store.GetBankEntries(ctx, []string{"X"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, entries[0].Status)

	unreconciled, err := store.ListUnreconciledSales(ctx, day(30))
	require.NoError(t, err)
	assert.Empty(t, unreconciled)

	trail, err := store.ListAuditEntries(ctx, proposed.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.LinkNone, trail[0].From)
	assert.Equal(t, model.LinkProposed, trail[0].To)
	assert.Equal(t, model.LinkProposed, trail[1].From)
	assert.Equal(t, model.LinkConfirmed, trail[1].To)
	assert.Equal(t, "alice", trail[1].Actor)
	require.Len(t, trail[1].Amounts, 3)
	assert.True(t, decimal.RequireFromString("25000").Equal(trail[1].SaleTotal))
	assert.True(t, decimal.RequireFromString("25000").Equal(trail[1].BankTotal))
	assert.Equal(t, int64(3), store.Recorder().Written())
}

func TestAtomicApply_ConfirmSupersedesOverlappingProposals(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Sale{testSale("S1", "100", day(0))},
		[]model.BankEntry{testInflow("B1", "100", day(1)), testInflow("B2", "100", day(2))},
	)

	first := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))
	second := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B2"}))

	_, err := confirm(store, first.ID)
	require.NoError(t, err)

	loser, err := store.GetLink(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkRejected, loser.Status)
	assert.Equal(t, first.ID, loser.SupersededBy)

	// The superseded link is not an operator rejection.
	keys, err := store.ListRejectedKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = confirm(store, second.ID)
	var conflict *common.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ByLinkID)

	trail, err := store.ListAuditEntries(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, model.LinkRejected, trail[1].To)
	require.Len(t, trail[1].Amounts, 2)

	// B2 is free again.
	inflows, err := store.ListUnreconciledInflows(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, inflows, 1)
	assert.Equal(t, "B2", inflows[0].ID)
}

func TestAtomicApply_ConfirmTwice(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "50", day(0))})
	link := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))

	_, err := confirm(store, link.ID)
	require.NoError(t, err)

	_, err = confirm(store, link.ID)
	var conflict *common.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), store.Recorder().Written())
}

func TestAtomicApply_StaleAfterRecordEdit(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "50", day(0))})
	link := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))

	// The sales workflow edits the record after the proposal.
	seed(t, store, []model.Sale{testSale("S1", "55", day(0))}, nil)

	_, err := confirm(store, link.ID)
	var stale *common.StaleCandidateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, []string{"S1"}, stale.RecordIDs)

	stored, err := store.GetLink(ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkProposed, stored.Status, "failed confirm must not change state")
}

func TestAtomicApply_AmountMismatchLeavesNoTrace(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "49", day(0))})

	c := candidateFor(t, store, []string{"S1"}, []string{"B1"})
	c.Method, c.Pass = model.MethodManual, model.PassManual

	_, err := store.AtomicApply(ctx, model.Transition{
		Kind:      model.TransitionConfirm,
		Candidate: c,
		Actor:     "alice",
	})
	var mismatch *common.AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, decimal.NewFromInt(1).Equal(mismatch.Difference()))

	links, err := store.ListLinks(ctx, service.LinkFilter{})
	require.NoError(t, err)
	assert.Empty(t, links, "the implicit proposal must roll back too")

	// Within tolerance it succeeds and the larger side is partially reconciled.
	link, err := store.AtomicApply(ctx, model.Transition{
		Kind:      model.TransitionConfirm,
		Candidate: c,
		Actor:     "alice",
		Tolerance: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, model.LinkConfirmed, link.Status)

	sales, err := store.GetSales(ctx, []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyReconciled, sales[0].Status)
	entries, err := store.GetBankEntries(ctx, []string{"B1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, entries[0].Status)
}

func TestAtomicApply_RejectIsIdempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "50", day(0))})
	link := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))

	reject := model.Transition{Kind: model.TransitionReject, LinkID: link.ID, Actor: "bob", Reason: "different client"}
	rejected, err := store.AtomicApply(ctx, reject)
	require.NoError(t, err)
	assert.Equal(t, model.LinkRejected, rejected.Status)
	assert.Equal(t, "different client", rejected.Reason)

	again, err := store.AtomicApply(ctx, reject)
	require.NoError(t, err)
	assert.Equal(t, model.LinkRejected, again.Status)

	trail, err := store.ListAuditEntries(ctx, link.ID)
	require.NoError(t, err)
	assert.Len(t, trail, 2, "a repeated reject writes nothing")

	keys, err := store.ListRejectedKeys(ctx)
	require.NoError(t, err)
	assert.True(t, keys[link.CandidateKey])

	_, err = confirm(store, link.ID)
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestAtomicApply_ReverseRestoresRecords(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "50", day(0))})
	link := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))

	reverse := model.Transition{Kind: model.TransitionReverse, LinkID: link.ID, Actor: "carol", Reason: "wrong deposit"}
	_, err := store.AtomicApply(ctx, reverse)
	require.ErrorIs(t, err, common.ErrInvalidTransition, "only confirmed links reverse")

	_, err = confirm(store, link.ID)
	require.NoError(t, err)

	reversed, err := store.AtomicApply(ctx, reverse)
	require.NoError(t, err)
	assert.Equal(t, model.LinkReversed, reversed.Status)
	assert.Equal(t, "wrong deposit", reversed.Reason)

	sales, err := store.GetSales(ctx, []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnreconciled, sales[0].Status)
	assert.Empty(t, sales[0].ConfirmedLinkID)
	assert.Equal(t, int64(2), sales[0].Version)

	// A fresh proposal for the same records is allowed after reversal.
	fresh := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))
	assert.NotEqual(t, link.ID, fresh.ID)
	_, err = confirm(store, fresh.ID)
	require.NoError(t, err)

	trail, err := store.ListAuditEntries(ctx, link.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, model.LinkConfirmed, trail[2].From)
	assert.Equal(t, model.LinkReversed, trail[2].To)
	assert.Equal(t, "wrong deposit", trail[2].Reason)
}

func TestAtomicApply_AuditFailureStillCommits(t *testing.T) {
	var failures []model.AuditEntry
	recorder := audit.NewRecorder(func(entry model.AuditEntry, _ error) {
		failures = append(failures, entry)
	})

	store, err := NewSQLiteStorage(t.TempDir()+"/audit.db", WithAuditRecorder(recorder))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	seed(t, store, []model.Sale{testSale("S1", "50", day(0))}, []model.BankEntry{testInflow("B1", "50", day(0))})

	_, err = store.db.ExecContext(ctx, `DROP TABLE audit_entries`)
	require.NoError(t, err)

	link := propose(t, store, candidateFor(t, store, []string{"S1"}, []string{"B1"}))
	confirmed, err := confirm(store, link.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LinkConfirmed, confirmed.Status)

	assert.Equal(t, int64(2), recorder.Failures())
	assert.Equal(t, int64(0), recorder.Written())
	require.Len(t, failures, 2)
	assert.Equal(t, link.ID, failures[1].LinkID)

	sales, err := store.GetSales(ctx, []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, sales[0].Status)
}

func TestAtomicApply_InvalidRequests(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seed(t, store,
		[]model.Sale{testSale("S1", "50", day(0)), testSale("S2", "50", day(0))},
		[]model.BankEntry{testInflow("B1", "50", day(0)), testInflow("B2", "50", day(0)), testOutflow("O1", "50", day(0))},
	)

	tests := []struct {
		check      func(*testing.T, error)
		transition model.Transition
		name       string
	}{
		{
			name:       "missing actor",
			transition: model.Transition{Kind: model.TransitionConfirm, LinkID: "x"},
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, common.ErrInvalidTransition)
			},
		},
		{
			name:       "unknown link",
			transition: model.Transition{Kind: model.TransitionConfirm, LinkID: "nope", Actor: "a"},
			check: func(t *testing.T, err error) {
				t.Helper()
				var notFound *common.NotFoundError
				require.ErrorAs(t, err, &notFound)
			},
		},
		{
			name: "many to many",
			transition: model.Transition{
				Kind:      model.TransitionPropose,
				Candidate: candidateFor(t, store, []string{"S1", "S2"}, []string{"B1", "B2"}),
				Actor:     "a",
			},
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, common.ErrInvalidCandidate)
			},
		},
		{
			name: "outflow member",
			transition: model.Transition{
				Kind:      model.TransitionPropose,
				Candidate: candidateFor(t, store, []string{"S1"}, []string{"O1"}),
				Actor:     "a",
			},
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, common.ErrInvalidCandidate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.AtomicApply(ctx, tt.transition)
			require.Error(t, err)
			tt.check(t, err)

			var persist *common.PersistenceError
			assert.False(t, errors.As(err, &persist), "validation failures are not persistence errors")
		})
	}
}
