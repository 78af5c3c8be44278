package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Veraticus/tally/internal/model"
	"github.com/schollz/progressbar/v3"
)

// AutoAcceptProgress tracks an auto-accept run on a progress bar.
type AutoAcceptProgress struct {
	writer   io.Writer
	bar      *progressbar.ProgressBar
	failures []string
	accepted int
	mu       sync.Mutex
}

// NewAutoAcceptProgress creates a progress bar sized for total eligible candidates.
func NewAutoAcceptProgress(writer io.Writer, total int) *AutoAcceptProgress {
	p := &AutoAcceptProgress{writer: writer}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Auto-accepting matches...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(writer); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Observe records one auto-accept attempt. Its signature matches the
// coordinator's auto-accept observer.
func (p *AutoAcceptProgress) Observe(candidate model.CandidateLink, link *model.ReconciliationLink, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failures = append(p.failures, fmt.Sprintf("%s: %s", candidate.LinkID, UserMessage(err)))
	} else if link != nil {
		p.accepted++
	}
	if addErr := p.bar.Add(1); addErr != nil {
		slog.Warn("Failed to update progress bar", "error", addErr)
	}
}

// Finish closes the bar and prints any failures.
func (p *AutoAcceptProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
	for _, failure := range p.failures {
		if _, err := fmt.Fprintln(p.writer, FormatWarning(failure)); err != nil {
			slog.Warn("Failed to write auto-accept failure", "error", err)
		}
	}
}

// Accepted returns the number of links confirmed so far.
func (p *AutoAcceptProgress) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// Failures returns the operator messages for failed attempts.
func (p *AutoAcceptProgress) Failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failures...)
}
