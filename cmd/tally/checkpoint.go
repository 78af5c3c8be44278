package main

import (
	"fmt"
	"strconv"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/spf13/cobra"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage ledger checkpoints",
		Long: `Checkpoints are point-in-time copies of the ledger database, kept beside it
in a checkpoints directory. suggest --auto takes one automatically before
confirming anything.`,
	}

	create := &cobra.Command{
		Use:   "create [tag]",
		Short: "Copy the ledger now",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheckpointCreate,
	}
	create.Flags().StringP("description", "d", "", "What this checkpoint is for")

	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE:  runCheckpointList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <tag>",
		Short: "Remove a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointDelete,
	})

	return cmd
}

func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	description, _ := cmd.Flags().GetString("description")
	tag := ""
	if len(args) == 1 {
		tag = args[0]
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cm, err := s.store.Checkpoints()
	if err != nil {
		return err
	}
	info, err := cm.Create(ctx, tag, description)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Checkpoint %s created (%d links, %d audit entries)",
		info.ID, info.RowCounts["reconciliation_links"], info.RowCounts["audit_entries"])))
	return nil
}

func runCheckpointList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cm, err := s.store.Checkpoints()
	if err != nil {
		return err
	}
	checkpoints, err := cm.List(ctx)
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Fprintln(out, cli.InfoStyle.Render("No checkpoints yet."))
		return nil
	}

	rows := make([][]string, 0, len(checkpoints))
	for _, cp := range checkpoints {
		rows = append(rows, []string{
			cp.ID,
			cp.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(cp.RowCounts["reconciliation_links"]),
			fmt.Sprintf("%d KB", cp.FileSize/1024),
			cp.Description,
		})
	}
	table, err := cli.RenderTable([]string{"ID", "Created", "Links", "Size", "Description"}, rows)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)
	return nil
}

func runCheckpointDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	cm, err := s.store.Checkpoints()
	if err != nil {
		return err
	}
	if err := cm.Delete(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted checkpoint "+args[0]))
	return nil
}
