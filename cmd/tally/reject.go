package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/spf13/cobra"
)

func rejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <link-id>",
		Short: "Reject a proposed match",
		Long: `Reject a proposed link. The same pairing of records will not be suggested
again. Rejecting a link that is already rejected does nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: runReject,
	}

	cmd.Flags().String("reason", "", "Why the match is wrong")

	return cmd
}

func runReject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reason, _ := cmd.Flags().GetString("reason")

	who, err := actor()
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.coordinator.RejectCandidate(ctx, engine.RefLink(args[0]), who, reason); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Rejected "+args[0]))
	return nil
}
