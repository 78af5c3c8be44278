package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// newID generates link and audit identifiers.
var newID = uuid.NewString

// Snapshot is the ledger state a transition is planned against. The store
// reads it inside the same transaction that persists the outcome.
type Snapshot struct {
	// Link is the target link when the transition names one by id.
	Link *model.ReconciliationLink
	// Existing is the latest proposed or rejected link sharing the candidate key.
	Existing    *model.ReconciliationLink
	Sales       map[string]model.Sale
	BankEntries map[string]model.BankEntry
	// Overlapping holds proposed links, other than the target, that share a member record.
	Overlapping []model.ReconciliationLink
}

// Outcome is everything a store must persist for a transition.
type Outcome struct {
	Link model.ReconciliationLink
	// PriorStatus is the stored status the link update must compare against.
	PriorStatus model.LinkStatus
	Superseded  []model.ReconciliationLink
	// Bumps lists member records whose version must advance, with the version
	// they are expected to hold right now.
	Bumps   []model.RecordVersion
	Audit   []model.AuditEntry
	Created bool
	NoOp    bool
}

// Apply plans a transition against a snapshot. It never partially applies:
// on error the outcome is empty and nothing must be persisted.
func Apply(snap Snapshot, t model.Transition) (Outcome, error) {
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	switch t.Kind {
	case model.TransitionPropose:
		if t.Candidate == nil {
			return Outcome{}, fmt.Errorf("%w: propose requires a candidate", common.ErrInvalidCandidate)
		}
		if existing := reusable(snap, openProposal(snap.Existing)); existing != nil {
			return Outcome{Link: *existing, PriorStatus: existing.Status, NoOp: true}, nil
		}
		return propose(snap, *t.Candidate, t)
	case model.TransitionConfirm:
		return confirm(snap, t)
	case model.TransitionReject:
		return reject(snap, t)
	case model.TransitionReverse:
		return reverse(snap, t)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown transition %q", common.ErrInvalidTransition, t.Kind)
	}
}

func openProposal(link *model.ReconciliationLink) *model.ReconciliationLink {
	if link != nil && link.Status == model.LinkProposed {
		return link
	}
	return nil
}

// reusable returns link unless it is an open proposal whose members changed
// since it was made. Such a proposal is retired by the next propose.
func reusable(snap Snapshot, link *model.ReconciliationLink) *model.ReconciliationLink {
	if link == nil {
		return nil
	}
	if link.Status == model.LinkProposed && len(staleMembers(snap, link.Versions)) > 0 {
		return nil
	}
	return link
}

// target resolves the link a confirm or reject acts on, proposing the
// candidate first when the transition does not name a persisted link.
func target(snap Snapshot, t model.Transition, reuse func(*model.ReconciliationLink) *model.ReconciliationLink) (Outcome, error) {
	if snap.Link != nil {
		return Outcome{Link: *snap.Link, PriorStatus: snap.Link.Status}, nil
	}
	if t.LinkID != "" {
		return Outcome{}, &common.NotFoundError{Kind: "link", ID: t.LinkID}
	}
	if t.Candidate == nil {
		return Outcome{}, fmt.Errorf("%w: transition names no link", common.ErrInvalidTransition)
	}
	if existing := reusable(snap, reuse(snap.Existing)); existing != nil {
		return Outcome{Link: *existing, PriorStatus: existing.Status}, nil
	}
	return propose(snap, *t.Candidate, t)
}

func propose(snap Snapshot, c model.CandidateLink, t model.Transition) (Outcome, error) {
	if err := validateShape(c.SaleIDs(), c.BankEntryIDs()); err != nil {
		return Outcome{}, err
	}

	saleTotal, bankTotal, err := memberTotals(snap, c.SaleIDs(), c.BankEntryIDs())
	if err != nil {
		return Outcome{}, err
	}
	if conflict := confirmedElsewhere(snap, c.SaleIDs(), c.BankEntryIDs(), ""); conflict != nil {
		return Outcome{}, conflict
	}

	method := c.Method
	if method == "" {
		method = model.MethodManual
	}
	pass := c.Pass
	if pass == "" {
		pass = model.PassManual
	}

	link := model.ReconciliationLink{
		ID:           newID(),
		CandidateKey: model.CandidateKey(c.SaleIDs(), c.BankEntryIDs()),
		SaleIDs:      c.SaleIDs(),
		BankEntryIDs: c.BankEntryIDs(),
		Versions:     c.Versions(),
		SaleTotal:    saleTotal,
		BankTotal:    bankTotal,
		Method:       method,
		Pass:         pass,
		Status:       model.LinkProposed,
		CreatedBy:    t.Actor,
		CreatedAt:    t.At,
		UpdatedAt:    t.At,
	}
	if method == model.MethodAuto {
		link.Confidence = c.Score
	}

	out := Outcome{
		Link:        link,
		PriorStatus: model.LinkNone,
		Created:     true,
		Audit:       []model.AuditEntry{auditEntry(snap, link, model.LinkNone, t.Actor, "", t.At)},
	}

	// An open proposal for the same key only survives to here when it went stale.
	if old := openProposal(snap.Existing); old != nil {
		retired := supersede(*old, link.ID, t.Actor, t.At, "member records changed since proposal")
		out.Superseded = append(out.Superseded, retired)
		out.Audit = append(out.Audit, auditEntry(snap, retired, model.LinkProposed, t.Actor, retired.Reason, t.At))
	}
	return out, nil
}

func supersede(link model.ReconciliationLink, byID, actor string, at time.Time, why string) model.ReconciliationLink {
	link.Status = model.LinkRejected
	link.SupersededBy = byID
	link.ResolvedBy = actor
	link.ResolvedAt = &at
	link.UpdatedAt = at
	link.Reason = "superseded by link " + byID
	if why != "" {
		link.Reason += ": " + why
	}
	return link
}

func confirm(snap Snapshot, t model.Transition) (Outcome, error) {
	out, err := target(snap, t, openProposal)
	if err != nil {
		return Outcome{}, err
	}
	link := out.Link

	switch {
	case link.Status == model.LinkProposed:
	case link.Status == model.LinkConfirmed:
		return Outcome{}, &common.ConflictError{LinkID: link.ID}
	case link.Status == model.LinkRejected && link.SupersededBy != "":
		return Outcome{}, &common.ConflictError{LinkID: link.ID, ByLinkID: link.SupersededBy}
	default:
		return Outcome{}, fmt.Errorf("%w: cannot confirm %s link %s", common.ErrInvalidTransition, link.Status, link.ID)
	}

	saleTotal, bankTotal, err := memberTotals(snap, link.SaleIDs, link.BankEntryIDs)
	if err != nil {
		return Outcome{}, err
	}
	if conflict := confirmedElsewhere(snap, link.SaleIDs, link.BankEntryIDs, link.ID); conflict != nil {
		conflict.LinkID = link.ID
		return Outcome{}, conflict
	}
	if stale := staleMembers(snap, link.Versions); len(stale) > 0 {
		return Outcome{}, &common.StaleCandidateError{LinkID: link.ID, RecordIDs: stale}
	}
	if !Balanced(saleTotal, bankTotal, t.Tolerance) {
		return Outcome{}, &common.AmountMismatchError{SaleTotal: saleTotal, BankTotal: bankTotal, Tolerance: t.Tolerance}
	}

	at := t.At
	link.Status = model.LinkConfirmed
	link.SaleTotal = saleTotal
	link.BankTotal = bankTotal
	link.ConfirmedBy = t.Actor
	link.ConfirmedAt = &at
	link.UpdatedAt = at
	out.Link = link
	out.Bumps = currentVersions(snap, link.SaleIDs, link.BankEntryIDs)
	out.Audit = append(out.Audit, auditEntry(snap, link, model.LinkProposed, t.Actor, t.Reason, at))

	for _, other := range snap.Overlapping {
		if other.ID == link.ID || other.Status != model.LinkProposed {
			continue
		}
		other = supersede(other, link.ID, t.Actor, at, "")
		out.Superseded = append(out.Superseded, other)
		out.Audit = append(out.Audit, auditEntry(snap, other, model.LinkProposed, t.Actor, other.Reason, at))
	}

	return out, nil
}

func reject(snap Snapshot, t model.Transition) (Outcome, error) {
	out, err := target(snap, t, func(l *model.ReconciliationLink) *model.ReconciliationLink {
		if l != nil && (l.Status == model.LinkProposed || l.Status == model.LinkRejected) {
			return l
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	link := out.Link

	switch link.Status {
	case model.LinkRejected:
		out.NoOp = true
		return out, nil
	case model.LinkProposed:
	default:
		return Outcome{}, fmt.Errorf("%w: cannot reject %s link %s", common.ErrInvalidTransition, link.Status, link.ID)
	}

	at := t.At
	link.Status = model.LinkRejected
	link.ResolvedBy = t.Actor
	link.ResolvedAt = &at
	link.UpdatedAt = at
	link.Reason = t.Reason
	out.Link = link
	out.Audit = append(out.Audit, auditEntry(snap, link, model.LinkProposed, t.Actor, t.Reason, at))
	return out, nil
}

func reverse(snap Snapshot, t model.Transition) (Outcome, error) {
	if snap.Link == nil {
		id := t.LinkID
		if id == "" {
			return Outcome{}, fmt.Errorf("%w: reverse requires a link id", common.ErrInvalidTransition)
		}
		return Outcome{}, &common.NotFoundError{Kind: "link", ID: id}
	}
	link := *snap.Link
	if link.Status != model.LinkConfirmed {
		return Outcome{}, fmt.Errorf("%w: cannot reverse %s link %s", common.ErrInvalidTransition, link.Status, link.ID)
	}
	if _, _, err := memberTotals(snap, link.SaleIDs, link.BankEntryIDs); err != nil {
		return Outcome{}, err
	}

	at := t.At
	link.Status = model.LinkReversed
	link.ResolvedBy = t.Actor
	link.ResolvedAt = &at
	link.UpdatedAt = at
	link.Reason = t.Reason

	return Outcome{
		Link:        link,
		PriorStatus: model.LinkConfirmed,
		Bumps:       currentVersions(snap, link.SaleIDs, link.BankEntryIDs),
		Audit:       []model.AuditEntry{auditEntry(snap, link, model.LinkConfirmed, t.Actor, t.Reason, at)},
	}, nil
}

// validateShape enforces non-empty, duplicate-free, not many-to-many membership.
func validateShape(saleIDs, bankEntryIDs []string) error {
	if len(saleIDs) == 0 || len(bankEntryIDs) == 0 {
		return fmt.Errorf("%w: both sides need at least one record", common.ErrInvalidCandidate)
	}
	if len(saleIDs) > 1 && len(bankEntryIDs) > 1 {
		return fmt.Errorf("%w: many-to-many links are not supported", common.ErrInvalidCandidate)
	}
	for _, ids := range [][]string{saleIDs, bankEntryIDs} {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				return fmt.Errorf("%w: record %s listed twice", common.ErrInvalidCandidate, id)
			}
			seen[id] = true
		}
	}
	return nil
}

// memberTotals sums current member amounts, failing on missing or ineligible records.
func memberTotals(snap Snapshot, saleIDs, bankEntryIDs []string) (decimal.Decimal, decimal.Decimal, error) {
	saleTotal, bankTotal := decimal.Zero, decimal.Zero
	for _, id := range saleIDs {
		sale, ok := snap.Sales[id]
		if !ok {
			return saleTotal, bankTotal, &common.NotFoundError{Kind: "sale", ID: id}
		}
		saleTotal = saleTotal.Add(sale.Amount)
	}
	for _, id := range bankEntryIDs {
		entry, ok := snap.BankEntries[id]
		if !ok {
			return saleTotal, bankTotal, &common.NotFoundError{Kind: "bank entry", ID: id}
		}
		if !entry.IsInflow() {
			return saleTotal, bankTotal, fmt.Errorf("%w: bank entry %s is not an inflow", common.ErrInvalidCandidate, id)
		}
		bankTotal = bankTotal.Add(entry.Value())
	}
	return saleTotal, bankTotal, nil
}

// confirmedElsewhere returns a conflict naming members already confirmed in a link other than self.
func confirmedElsewhere(snap Snapshot, saleIDs, bankEntryIDs []string, self string) *common.ConflictError {
	var ids []string
	by := ""
	for _, id := range saleIDs {
		if linkID := snap.Sales[id].ConfirmedLinkID; linkID != "" && linkID != self {
			ids = append(ids, id)
			by = linkID
		}
	}
	for _, id := range bankEntryIDs {
		if linkID := snap.BankEntries[id].ConfirmedLinkID; linkID != "" && linkID != self {
			ids = append(ids, id)
			by = linkID
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return &common.ConflictError{ByLinkID: by, RecordIDs: ids}
}

// staleMembers lists records whose version moved since the link was proposed.
func staleMembers(snap Snapshot, seen []model.RecordVersion) []string {
	var stale []string
	for _, v := range seen {
		var current int64
		switch v.Kind {
		case model.KindSale:
			current = snap.Sales[v.ID].Version
		case model.KindBankEntry:
			current = snap.BankEntries[v.ID].Version
		}
		if current != v.Version {
			stale = append(stale, v.ID)
		}
	}
	sort.Strings(stale)
	return stale
}

func currentVersions(snap Snapshot, saleIDs, bankEntryIDs []string) []model.RecordVersion {
	versions := make([]model.RecordVersion, 0, len(saleIDs)+len(bankEntryIDs))
	for _, id := range saleIDs {
		versions = append(versions, model.RecordVersion{Kind: model.KindSale, ID: id, Version: snap.Sales[id].Version})
	}
	for _, id := range bankEntryIDs {
		versions = append(versions, model.RecordVersion{Kind: model.KindBankEntry, ID: id, Version: snap.BankEntries[id].Version})
	}
	return versions
}

func auditEntry(snap Snapshot, link model.ReconciliationLink, from model.LinkStatus, actor, reason string, at time.Time) model.AuditEntry {
	amounts := make([]model.AuditAmount, 0, len(link.SaleIDs)+len(link.BankEntryIDs))
	for _, id := range link.SaleIDs {
		amounts = append(amounts, model.AuditAmount{Kind: model.KindSale, ID: id, Amount: snap.Sales[id].Amount})
	}
	for _, id := range link.BankEntryIDs {
		amounts = append(amounts, model.AuditAmount{Kind: model.KindBankEntry, ID: id, Amount: snap.BankEntries[id].Amount})
	}

	return model.AuditEntry{
		ID:        newID(),
		LinkID:    link.ID,
		From:      from,
		To:        link.Status,
		Actor:     actor,
		Reason:    reason,
		At:        at,
		Amounts:   amounts,
		SaleTotal: link.SaleTotal,
		BankTotal: link.BankTotal,
	}
}
