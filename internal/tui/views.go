package tui

import (
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

var (
	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cli.PrimaryColor)

	decidedStyles = map[Decision]lipgloss.Style{
		DecisionConfirmed: cli.SuccessStyle,
		DecisionRejected:  cli.ErrorStyle,
		DecisionSkipped:   cli.SubtleStyle,
	}
)

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.state == StateLoading {
		return m.spinner.View() + " Generating suggestions...\n"
	}

	var b strings.Builder
	b.WriteString(cli.FormatTitle(fmt.Sprintf("Review %d suggested matches", len(m.suggestions))))
	b.WriteString("\n")

	if len(m.suggestions) > 0 {
		b.WriteString(m.renderList())
		b.WriteString("\n")
		if s, ok := m.selected(); ok {
			b.WriteString(cli.RenderBox(cli.LinkIcon+" "+s.candidate.LinkID, cli.FormatCandidate(s.candidate)))
			b.WriteString("\n")
		}
	}

	if m.state == StateEnteringReason {
		b.WriteString(cli.SubtitleStyle.Render("Reject reason"))
		b.WriteString("\n")
		b.WriteString(m.reason.View())
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString(cli.FormatError(cli.UserMessage(m.err)))
		b.WriteString("\n")
	case m.status != "":
		b.WriteString(cli.InfoStyle.Render(m.status))
		b.WriteString("\n")
	}
	if len(m.suggestions) > 0 && m.pending() == 0 {
		b.WriteString(cli.FormatSuccess("Every suggestion has a decision. Press q to finish."))
		b.WriteString("\n")
	}

	b.WriteString(m.renderHelp())
	return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
}

func (m Model) renderList() string {
	var b strings.Builder
	for i, s := range m.suggestions {
		c := s.candidate
		line := fmt.Sprintf("%-10s %-36s %10s  %d↔%d",
			c.Pass, c.LinkID, cli.FormatAmount(c.BankTotal), len(c.Sales), len(c.BankEntries))

		marker := "  "
		if i == m.cursor {
			marker = "> "
		}

		switch {
		case s.busy:
			line = m.spinner.View() + " " + line
		case s.decision != DecisionPending:
			line = decidedStyles[s.decision].Render(line + "  " + s.decision.String())
		case i == m.cursor:
			line = selectedStyle.Render(line)
		}

		b.WriteString(marker + line + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	groups := [][]key.Binding{m.keys.ShortHelp()}
	if m.showHelp {
		groups = m.keys.FullHelp()
	}

	lines := make([]string, 0, len(groups))
	for _, group := range groups {
		parts := make([]string, 0, len(group))
		for _, binding := range group {
			h := binding.Help()
			parts = append(parts, cli.BoldStyle.Render(h.Key)+" "+h.Desc)
		}
		lines = append(lines, strings.Join(parts, "  "))
	}
	return cli.SubtleStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) selected() (suggestion, bool) {
	if m.cursor < 0 || m.cursor >= len(m.suggestions) {
		return suggestion{}, false
	}
	return m.suggestions[m.cursor], true
}

func (m Model) pending() int {
	n := 0
	for _, s := range m.suggestions {
		if s.decision == DecisionPending {
			n++
		}
	}
	return n
}
