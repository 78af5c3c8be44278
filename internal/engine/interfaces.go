package engine

import (
	"github.com/Veraticus/tally/internal/model"
)

// CandidateRef names what an operator decides on: a persisted link by id, or
// a candidate that has not been proposed yet.
type CandidateRef struct {
	Candidate *model.CandidateLink
	LinkID    string
}

// RefLink refers to a persisted link.
func RefLink(id string) CandidateRef {
	return CandidateRef{LinkID: id}
}

// RefCandidate refers to a candidate, using its link id when it has one.
func RefCandidate(c model.CandidateLink) CandidateRef {
	if c.LinkID != "" {
		return CandidateRef{LinkID: c.LinkID, Candidate: &c}
	}
	return CandidateRef{Candidate: &c}
}

// IsZero reports whether the ref names nothing.
func (r CandidateRef) IsZero() bool {
	return r.LinkID == "" && r.Candidate == nil
}

// AutoAcceptObserver is told about every candidate the auto-accept policy
// attempted, with the resulting link or error.
type AutoAcceptObserver func(candidate model.CandidateLink, link *model.ReconciliationLink, err error)
