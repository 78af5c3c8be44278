package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/spf13/cobra"
)

func manualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Match records by hand",
		Long: `Build a match from sales and deposits you choose. The records must be
unreconciled inflows and sales whose totals agree within the configured
tolerance. Without --confirm the match is only checked and shown.`,
		Example: `  tally manual --sale S-1041 --sale S-1042 --entry B-7730 --confirm`,
		RunE:    runManual,
	}

	cmd.Flags().StringSlice("sale", nil, "Sale id (repeatable)")
	cmd.Flags().StringSlice("entry", nil, "Bank entry id (repeatable)")
	cmd.Flags().Bool("confirm", false, "Confirm the match")
	_ = cmd.MarkFlagRequired("sale")
	_ = cmd.MarkFlagRequired("entry")

	return cmd
}

func runManual(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	saleIDs, _ := cmd.Flags().GetStringSlice("sale")
	entryIDs, _ := cmd.Flags().GetStringSlice("entry")
	confirm, _ := cmd.Flags().GetBool("confirm")

	who, err := actor()
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	candidate, err := s.coordinator.BuildManualCandidate(ctx, saleIDs, entryIDs)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, cli.FormatCandidate(candidate))

	if !confirm {
		fmt.Fprintln(out, cli.SubtleStyle.Render("Balanced. Re-run with --confirm to record it."))
		return nil
	}

	link, err := s.coordinator.ConfirmCandidate(ctx, engine.RefCandidate(candidate), who)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, cli.FormatSuccess("Confirmed "+link.ID))
	return nil
}
