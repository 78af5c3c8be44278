package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/report"
	"github.com/spf13/cobra"
)

const exportPageSize = 200

func linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect confirmed matches",
	}

	cmd.AddCommand(linksListCmd())
	cmd.AddCommand(linksExportCmd())

	return cmd
}

func linksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List confirmed links in confirmation order",
		RunE:  runLinksList,
	}

	cmd.Flags().Int("page", 1, "Page number")
	cmd.Flags().Int("page-size", 20, "Links per page")

	return cmd
}

func runLinksList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.coordinator.ConfirmedLinks(ctx, page, pageSize)
	if err != nil {
		return err
	}

	if len(result.Items) == 0 {
		fmt.Fprintln(out, cli.InfoStyle.Render("No confirmed links on this page."))
		return nil
	}

	fmt.Fprintln(out, cli.FormatTitle("Confirmed Links"))

	rows := make([][]string, 0, len(result.Items))
	for _, link := range result.Items {
		rows = append(rows, []string{
			link.ID,
			formatConfirmedAt(link),
			link.ConfirmedBy,
			string(link.Pass),
			formatMembers(link),
			cli.FormatAmount(link.Total()),
		})
	}
	table, err := cli.RenderTable([]string{"Link", "Confirmed", "By", "Pass", "Records", "Amount"}, rows)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)

	fmt.Fprintln(out, cli.SubtleStyle.Render(fmt.Sprintf("Page %d, %d links total", result.Page, result.Total)))
	return nil
}

func linksExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export confirmed links to an xlsx workbook",
		RunE:  runLinksExport,
	}

	cmd.Flags().String("out", "reconciliation.xlsx", "Workbook path")

	return cmd
}

func runLinksExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("out")

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var links []model.ReconciliationLink
	for page := 1; ; page++ {
		result, err := s.coordinator.ConfirmedLinks(ctx, page, exportPageSize)
		if err != nil {
			return err
		}
		links = append(links, result.Items...)
		if !result.HasNext() {
			break
		}
	}

	if err := report.WriteWorkbook(ctx, links, path, time.Now()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Exported %d links to %s", len(links), path)))
	return nil
}

func formatConfirmedAt(link model.ReconciliationLink) string {
	if link.ConfirmedAt == nil {
		return "-"
	}
	return link.ConfirmedAt.Local().Format("2006-01-02 15:04")
}

func formatMembers(link model.ReconciliationLink) string {
	return strings.Join(link.SaleIDs, ",") + " ↔ " + strings.Join(link.BankEntryIDs, ",")
}
