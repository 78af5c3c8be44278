package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/spf13/cobra"
)

func reverseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse <link-id>",
		Short: "Undo a confirmed match",
		Long: `Reverse a confirmed link. Its sales and deposits become unreconciled again
and can be matched anew. The link and its audit trail are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: runReverse,
	}

	cmd.Flags().String("reason", "", "Why the confirmation is being undone (required)")

	return cmd
}

func runReverse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reason, _ := cmd.Flags().GetString("reason")
	if err := requireReason(reason); err != nil {
		return err
	}

	who, err := actor()
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.coordinator.ReverseLink(ctx, args[0], who, reason); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Reversed "+args[0]))
	return nil
}
