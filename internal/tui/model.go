// Package tui provides the interactive review screen for proposed matches.
package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// State represents the current screen state.
type State int

const (
	StateLoading State = iota
	StateReviewing
	StateEnteringReason
)

// Decision records what the operator did with one suggestion.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionConfirmed
	DecisionRejected
	DecisionSkipped
)

func (d Decision) String() string {
	switch d {
	case DecisionConfirmed:
		return "confirmed"
	case DecisionRejected:
		return "rejected"
	case DecisionSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Summary counts the decisions made in one review.
type Summary struct {
	Suggestions int
	Confirmed   int
	Rejected    int
	Skipped     int
}

type suggestion struct {
	candidate model.CandidateLink
	decision  Decision
	busy      bool
}

// Model is the review screen.
type Model struct {
	ctx         context.Context
	reviewer    Reviewer
	err         error
	keys        KeyMap
	status      string
	actor       string
	opts        engine.SuggestOptions
	suggestions []suggestion
	reason      textinput.Model
	spinner     spinner.Model
	state       State
	cursor      int
	width       int
	showHelp    bool
	quitting    bool
}

// New creates a review model that loads suggestions on start.
func New(ctx context.Context, reviewer Reviewer, opts engine.SuggestOptions, actor string) Model {
	reason := textinput.New()
	reason.Placeholder = "Why is this match wrong? (optional)"
	reason.CharLimit = 200

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(cli.PrimaryColor)

	return Model{
		ctx:      ctx,
		reviewer: reviewer,
		keys:     DefaultKeyMap(),
		actor:    actor,
		opts:     opts,
		reason:   reason,
		spinner:  s,
		state:    StateLoading,
		width:    80,
	}
}

// Init returns initial commands.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, loadSuggestions(m.ctx, m.reviewer, m.opts))
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case suggestionsLoadedMsg:
		m.state = StateReviewing
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.suggestions = make([]suggestion, len(msg.suggestions))
		for i, c := range msg.suggestions {
			m.suggestions[i] = suggestion{candidate: c}
		}
		if len(m.suggestions) == 0 {
			m.status = "No new matches to review."
		}
		return m, nil

	case decisionMsg:
		return m.handleDecision(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleDecision(msg decisionMsg) Model {
	if msg.index < 0 || msg.index >= len(m.suggestions) {
		return m
	}
	s := &m.suggestions[msg.index]
	s.busy = false
	if msg.err != nil {
		m.err = msg.err
		return m
	}

	s.decision = msg.decision
	m.err = nil
	if msg.link != nil {
		m.status = fmt.Sprintf("Confirmed %s (%s)", msg.link.ID, cli.FormatAmount(msg.link.Total()))
	} else {
		m.status = "Rejected " + s.candidate.LinkID
	}
	m.advance()
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.quitting = true
		return m, tea.Quit
	}

	if m.state == StateEnteringReason {
		return m.handleReasonKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.suggestions)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Accept):
		if s, ok := m.current(); ok {
			s.busy = true
			return m, confirmSuggestion(m.ctx, m.reviewer, m.cursor, s.candidate, m.actor)
		}
	case key.Matches(msg, m.keys.Reject):
		if _, ok := m.current(); ok {
			m.state = StateEnteringReason
			m.reason.SetValue("")
			m.reason.Focus()
			return m, textinput.Blink
		}
	case key.Matches(msg, m.keys.Skip):
		if s, ok := m.current(); ok {
			s.decision = DecisionSkipped
			m.err = nil
			m.status = "Skipped " + s.candidate.LinkID
			m.advance()
		}
	}

	return m, nil
}

func (m Model) handleReasonKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.state = StateReviewing
		m.reason.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		m.state = StateReviewing
		m.reason.Blur()
		s, ok := m.current()
		if !ok {
			return m, nil
		}
		s.busy = true
		return m, rejectSuggestion(m.ctx, m.reviewer, m.cursor, s.candidate, m.actor, m.reason.Value())
	}

	var cmd tea.Cmd
	m.reason, cmd = m.reason.Update(msg)
	return m, cmd
}

// current returns the suggestion under the cursor if it still awaits a decision.
func (m *Model) current() (*suggestion, bool) {
	if m.cursor < 0 || m.cursor >= len(m.suggestions) {
		return nil, false
	}
	s := &m.suggestions[m.cursor]
	if s.busy || s.decision != DecisionPending {
		return nil, false
	}
	return s, true
}

// advance moves the cursor to the next pending suggestion, wrapping once.
func (m *Model) advance() {
	n := len(m.suggestions)
	for i := 1; i <= n; i++ {
		next := (m.cursor + i) % n
		if m.suggestions[next].decision == DecisionPending {
			m.cursor = next
			return
		}
	}
}

// Summary counts the decisions made so far.
func (m Model) Summary() Summary {
	summary := Summary{Suggestions: len(m.suggestions)}
	for _, s := range m.suggestions {
		switch s.decision {
		case DecisionConfirmed:
			summary.Confirmed++
		case DecisionRejected:
			summary.Rejected++
		case DecisionSkipped:
			summary.Skipped++
		}
	}
	return summary
}

// Err returns the last error shown to the operator.
func (m Model) Err() error {
	return m.err
}
