package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func suggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Propose matches between unreconciled sales and deposits",
		Long: `Generate match candidates from the unreconciled sales and bank inflows and
record each one as a proposed link. Exact one-to-one matches come first,
followed by aggregate matches where several sales settle in one deposit or
one sale arrives in several deposits.

With --auto, high-confidence one-to-one matches are confirmed immediately.
Aggregate matches always wait for an operator.`,
		RunE: runSuggest,
	}

	addSuggestFlags(cmd)
	cmd.Flags().Bool("auto", false, "Confirm eligible exact matches after proposing")
	cmd.Flags().Bool("no-checkpoint", false, "Skip the ledger checkpoint taken before auto-accepting")

	return cmd
}

func runSuggest(cmd *cobra.Command, _ []string) error {
	ctx, stop := cli.NewInterruptHandler(cmd.OutOrStdout()).HandleInterrupts(cmd.Context())
	defer stop()
	out := cmd.OutOrStdout()

	who, err := actor()
	if err != nil {
		return err
	}
	opts, err := suggestOptions(cmd, who)
	if err != nil {
		return err
	}
	auto, _ := cmd.Flags().GetBool("auto")
	skipCheckpoint, _ := cmd.Flags().GetBool("no-checkpoint")

	var progress *cli.AutoAcceptProgress
	s, err := openSession(ctx, engine.WithAutoAcceptObserver(func(c model.CandidateLink, link *model.ReconciliationLink, err error) {
		if progress != nil {
			progress.Observe(c, link, err)
		}
	}))
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := s.coordinator.RunSession(ctx, engine.SessionOptions{
		Suggest:    opts,
		AutoAccept: auto,
		BeforeAutoAccept: func(ctx context.Context, eligible int) error {
			if !skipCheckpoint {
				if err := checkpointBeforeAutoAccept(ctx, s); err != nil {
					return err
				}
			}
			progress = cli.NewAutoAcceptProgress(out, eligible)
			return nil
		},
	})
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		return err
	}

	if len(summary.Candidates) == 0 {
		fmt.Fprintln(out, cli.FormatInfo("No new matches. Everything loaded so far is reconciled or unmatched."))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle(fmt.Sprintf("%d suggested matches", len(summary.Candidates))))
	for _, c := range summary.Candidates {
		fmt.Fprintln(out, cli.FormatCandidate(c))
		fmt.Fprintln(out)
	}

	switch {
	case summary.AutoAcceptRan:
		fmt.Fprintln(out, cli.RenderBox(cli.SuccessIcon+" Auto-accept", fmt.Sprintf(
			"%d confirmed\n%d left for review\n%d taken meanwhile",
			len(summary.AutoAccepted), summary.Skipped, summary.Failed)))
	case auto || s.config.Reconcile.AutoAccept:
		fmt.Fprintln(out, cli.FormatInfo("No suggestion is confident enough to auto-accept."))
	default:
		fmt.Fprintln(out, cli.SubtleStyle.Render("Confirm with: tally confirm <link-id>, or step through them with tally review"))
	}
	return nil
}

func checkpointBeforeAutoAccept(ctx context.Context, s *session) error {
	cm, err := s.store.Checkpoints()
	if err == nil {
		_, err = cm.AutoCheckpoint(ctx, "auto-accept")
	}
	if err != nil {
		return fmt.Errorf("failed to checkpoint ledger before auto-accept: %w", err)
	}
	return nil
}

// addSuggestFlags registers the generation overrides read by suggestOptions.
func addSuggestFlags(cmd *cobra.Command) {
	cmd.Flags().Int("window", 0, "Days a deposit may land from its sale (default from config)")
	cmd.Flags().String("tolerance", "", "Largest total difference accepted as a match (default from config)")
	cmd.Flags().String("as-of", "", "Only consider records on or before this date (YYYY-MM-DD)")
}

func suggestOptions(cmd *cobra.Command, who string) (engine.SuggestOptions, error) {
	opts := engine.SuggestOptions{Actor: who}

	if cmd.Flags().Changed("window") {
		window, _ := cmd.Flags().GetInt("window")
		if window < 0 {
			return opts, fmt.Errorf("--window must not be negative")
		}
		opts.WindowDays = &window
	}

	if raw, _ := cmd.Flags().GetString("tolerance"); raw != "" {
		tol, err := decimal.NewFromString(raw)
		if err != nil || tol.IsNegative() {
			return opts, fmt.Errorf("--tolerance must be a non-negative amount, got %q", raw)
		}
		opts.Tolerance = &tol
	}

	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		asOf, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return opts, fmt.Errorf("--as-of must be YYYY-MM-DD, got %q", raw)
		}
		// Include the whole day.
		opts.AsOf = asOf.Add(24*time.Hour - time.Nanosecond)
	}

	return opts, nil
}
