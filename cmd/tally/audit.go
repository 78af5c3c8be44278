package main

import (
	"fmt"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <link-id>",
		Short: "Show the audit trail of a link",
		Args:  cobra.ExactArgs(1),
		RunE:  runAudit,
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.coordinator.AuditTrail(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(out, cli.FormatTitle("Audit trail for "+args[0]))
	if len(entries) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No audit entries were recorded for this link."))
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintln(out, cli.FormatAuditEntry(entry))
	}
	return nil
}
