package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransitionKind names a state machine operation.
type TransitionKind string

// Transition kinds.
const (
	TransitionPropose TransitionKind = "propose"
	TransitionConfirm TransitionKind = "confirm"
	TransitionReject  TransitionKind = "reject"
	TransitionReverse TransitionKind = "reverse"
)

// Transition is a request to move a link through its lifecycle.
//
// Either LinkID or Candidate identifies the link. A confirm or reject that
// carries only a Candidate proposes it first within the same unit of work.
type Transition struct {
	At        time.Time
	Candidate *CandidateLink
	Kind      TransitionKind
	LinkID    string
	Actor     string
	Reason    string
	Tolerance decimal.Decimal
}
