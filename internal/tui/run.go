package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/tally/internal/engine"
	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the review screen until the operator quits and reports what was decided.
func Run(ctx context.Context, reviewer Reviewer, opts engine.SuggestOptions, actor string, programOpts ...tea.ProgramOption) (Summary, error) {
	if reviewer == nil {
		return Summary{}, fmt.Errorf("reviewer is required")
	}

	programOpts = append([]tea.ProgramOption{tea.WithContext(ctx)}, programOpts...)
	final, err := tea.NewProgram(New(ctx, reviewer, opts, actor), programOpts...).Run()
	if err != nil {
		return Summary{}, fmt.Errorf("review screen failed: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return Summary{}, fmt.Errorf("review screen returned unexpected model %T", final)
	}
	return m.Summary(), nil
}
