package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/match"
	"github.com/Veraticus/tally/internal/model"
)

// AtomicApply executes a transition in one immediate transaction: it reads a
// snapshot, lets the state machine plan the outcome, and writes the link,
// superseded proposals, record version bumps and audit entries together.
func (s *SQLiteStorage) AtomicApply(ctx context.Context, t model.Transition) (*model.ReconciliationLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateTransition(&t); err != nil {
		return nil, err
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.NewPersistenceError("begin transition", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap, err := s.loadSnapshot(ctx, tx, t)
	if err != nil {
		return nil, common.NewPersistenceError("load snapshot", err)
	}

	out, err := match.Apply(snap, t)
	if err != nil {
		return nil, err
	}
	if out.NoOp {
		slog.Debug("Transition was a no-op", "kind", t.Kind, "link_id", out.Link.ID, "status", out.Link.Status)
		return &out.Link, nil
	}

	if out.Created {
		if err := insertLink(ctx, tx, out.Link); err != nil {
			return nil, common.NewPersistenceError("insert link", err)
		}
	} else {
		ok, err := updateLink(ctx, tx, out.Link, out.PriorStatus)
		if err != nil {
			return nil, common.NewPersistenceError("update link", err)
		}
		if !ok {
			return nil, &common.ConflictError{LinkID: out.Link.ID}
		}
	}

	for _, other := range out.Superseded {
		ok, err := updateLink(ctx, tx, other, model.LinkProposed)
		if err != nil {
			return nil, common.NewPersistenceError("supersede link", err)
		}
		if !ok {
			return nil, &common.ConflictError{LinkID: other.ID}
		}
	}

	var stale []string
	for _, v := range out.Bumps {
		ok, err := bumpVersion(ctx, tx, v, t.At)
		if err != nil {
			return nil, common.NewPersistenceError("bump record version", err)
		}
		if !ok {
			stale = append(stale, v.ID)
		}
	}
	if len(stale) > 0 {
		return nil, &common.StaleCandidateError{LinkID: out.Link.ID, RecordIDs: stale}
	}

	appender := &savepointAppender{tx: tx}
	for _, entry := range out.Audit {
		s.recorder.Record(ctx, appender, entry)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.NewPersistenceError("commit transition", err)
	}

	slog.Info("Applied transition",
		"kind", t.Kind,
		"link_id", out.Link.ID,
		"status", out.Link.Status,
		"actor", t.Actor,
		"superseded", len(out.Superseded))

	return &out.Link, nil
}

// loadSnapshot reads everything the state machine needs for t through the open transaction.
func (s *SQLiteStorage) loadSnapshot(ctx context.Context, q querier, t model.Transition) (match.Snapshot, error) {
	var (
		snap         match.Snapshot
		saleIDs      []string
		bankEntryIDs []string
	)

	switch {
	case t.LinkID != "":
		link, err := s.linkByID(ctx, q, t.LinkID)
		if err != nil {
			return snap, err
		}
		if link != nil {
			snap.Link = link
			saleIDs, bankEntryIDs = link.SaleIDs, link.BankEntryIDs
		}
	case t.Candidate != nil:
		saleIDs, bankEntryIDs = t.Candidate.SaleIDs(), t.Candidate.BankEntryIDs()
		existing, err := s.latestLinkByKey(ctx, q, model.CandidateKey(saleIDs, bankEntryIDs))
		if err != nil {
			return snap, err
		}
		snap.Existing = existing
	}

	if t.Kind == model.TransitionConfirm {
		exclude := ""
		if snap.Link != nil {
			exclude = snap.Link.ID
		} else if snap.Existing != nil {
			exclude = snap.Existing.ID
		}
		overlapping, err := s.overlappingProposals(ctx, q, saleIDs, bankEntryIDs, exclude)
		if err != nil {
			return snap, err
		}
		snap.Overlapping = overlapping

		// Superseded links are audited with their own member amounts.
		for _, other := range overlapping {
			saleIDs = append(saleIDs, other.SaleIDs...)
			bankEntryIDs = append(bankEntryIDs, other.BankEntryIDs...)
		}
	}

	var err error
	if snap.Sales, err = s.salesByID(ctx, q, dedupe(saleIDs)); err != nil {
		return snap, err
	}
	if snap.BankEntries, err = s.bankEntriesByID(ctx, q, dedupe(bankEntryIDs)); err != nil {
		return snap, err
	}
	return snap, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
