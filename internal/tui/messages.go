package tui

import "github.com/Veraticus/tally/internal/model"

// Data loading messages.
type suggestionsLoadedMsg struct {
	err         error
	suggestions []model.CandidateLink
}

// Async operation messages.
type decisionMsg struct {
	err      error
	link     *model.ReconciliationLink
	index    int
	decision Decision
}
