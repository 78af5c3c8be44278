package tui

import (
	"context"

	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	tea "github.com/charmbracelet/bubbletea"
)

// Reviewer is the part of the coordinator the review screen drives.
type Reviewer interface {
	GetSuggestions(ctx context.Context, opts engine.SuggestOptions) ([]model.CandidateLink, error)
	ConfirmCandidate(ctx context.Context, ref engine.CandidateRef, actor string) (*model.ReconciliationLink, error)
	RejectCandidate(ctx context.Context, ref engine.CandidateRef, actor, reason string) error
}

func loadSuggestions(ctx context.Context, r Reviewer, opts engine.SuggestOptions) tea.Cmd {
	return func() tea.Msg {
		suggestions, err := r.GetSuggestions(ctx, opts)
		return suggestionsLoadedMsg{suggestions: suggestions, err: err}
	}
}

func confirmSuggestion(ctx context.Context, r Reviewer, index int, c model.CandidateLink, actor string) tea.Cmd {
	return func() tea.Msg {
		link, err := r.ConfirmCandidate(ctx, engine.RefCandidate(c), actor)
		return decisionMsg{index: index, decision: DecisionConfirmed, link: link, err: err}
	}
}

func rejectSuggestion(ctx context.Context, r Reviewer, index int, c model.CandidateLink, actor, reason string) tea.Cmd {
	return func() tea.Msg {
		err := r.RejectCandidate(ctx, engine.RefCandidate(c), actor, reason)
		return decisionMsg{index: index, decision: DecisionRejected, err: err}
	}
}
