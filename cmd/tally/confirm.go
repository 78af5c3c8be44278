package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/spf13/cobra"
)

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <link-id>...",
		Short: "Confirm proposed matches",
		Long: `Confirm one or more proposed links. Confirming marks every member sale and
deposit reconciled and retires any other open proposal that shares a record.

If a record was reconciled or edited since the proposal was made, the
confirm is refused; run suggest again for a fresh match.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runConfirm,
	}
}

func runConfirm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	who, err := actor()
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		failed  error
		refused int
	)
	for _, id := range args {
		link, err := s.coordinator.ConfirmCandidate(ctx, engine.RefLink(id), who)
		if err != nil {
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %s", id, cli.UserMessage(err))))
			failed = err
			refused++
			continue
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Confirmed %s (%s)", link.ID, cli.FormatAmount(link.Total()))))
	}
	if failed != nil {
		return common.NewUserError(fmt.Sprintf("%d of %d links were not confirmed", refused, len(args)), failed)
	}
	return nil
}
