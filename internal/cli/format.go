package cli

import (
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount with two decimals.
func FormatAmount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// FormatCandidate renders one suggestion for review.
func FormatCandidate(c model.CandidateLink) string {
	var b strings.Builder

	title := fmt.Sprintf("%s match", c.Pass)
	if c.IsAggregate() {
		title = fmt.Sprintf("%s match (%d sales, %d bank entries)", c.Pass, len(c.Sales), len(c.BankEntries))
	}
	b.WriteString(BoldStyle.Render(title))
	if c.LinkID != "" {
		b.WriteString(SubtleStyle.Render("  " + c.LinkID))
	}
	b.WriteString("\n")

	for _, s := range c.Sales {
		fmt.Fprintf(&b, "  sale  %-12s %s  %10s  %s\n", s.ID, s.Date.Format("2006-01-02"), FormatAmount(s.Amount), s.ClientRef)
	}
	for _, e := range c.BankEntries {
		fmt.Fprintf(&b, "  bank  %-12s %s  %10s  %s\n", e.ID, e.PostedAt.Format("2006-01-02"), FormatAmount(e.Value()), e.Description)
	}

	totals := fmt.Sprintf("  totals %s / %s", FormatAmount(c.SaleTotal), FormatAmount(c.BankTotal))
	score := fmt.Sprintf("  score %.2f, %.1f days apart", c.Score, c.DateDistance)
	if c.SaleTotal.Equal(c.BankTotal) {
		b.WriteString(SuccessStyle.Render(totals))
	} else {
		b.WriteString(WarningStyle.Render(totals))
	}
	b.WriteString(SubtleStyle.Render(score))
	return b.String()
}

// FormatLinkStatus colors a link status.
func FormatLinkStatus(status model.LinkStatus) string {
	switch status {
	case model.LinkConfirmed:
		return SuccessStyle.Render(status.String())
	case model.LinkProposed:
		return InfoStyle.Render(status.String())
	case model.LinkRejected, model.LinkReversed:
		return SubtleStyle.Render(status.String())
	default:
		return status.String()
	}
}

// FormatAuditEntry renders one audit line.
func FormatAuditEntry(e model.AuditEntry) string {
	line := fmt.Sprintf("%s  %s → %s  by %s  (%s / %s)",
		e.At.Format("2006-01-02 15:04:05"),
		e.From.String(),
		FormatLinkStatus(e.To),
		e.Actor,
		FormatAmount(e.SaleTotal),
		FormatAmount(e.BankTotal),
	)
	if e.Reason != "" {
		line += SubtleStyle.Render("  " + e.Reason)
	}
	return line
}
