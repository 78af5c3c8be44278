package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Step through suggested matches interactively",
		Long: `Generate suggestions and review them one at a time.

  a/y  confirm the match under the cursor
  r/n  reject it, with an optional reason for the audit trail
  s    skip it and leave the proposal open
  q    finish`,
		RunE: runReview,
	}

	addSuggestFlags(cmd)

	return cmd
}

func runReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	who, err := actor()
	if err != nil {
		return err
	}
	opts, err := suggestOptions(cmd, who)
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := tui.Run(ctx, s.coordinator, opts, who,
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox("Review summary", fmt.Sprintf(
		"%d suggestions\n%s %d confirmed\n%s %d rejected\n%d skipped",
		summary.Suggestions, cli.SuccessIcon, summary.Confirmed, cli.ErrorIcon, summary.Rejected, summary.Skipped)))
	return nil
}
