package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Veraticus/tally/internal/cli"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// ledgerFile is the exchange format produced by the sales and banking workflows.
type ledgerFile struct {
	Sales       []saleRecord `json:"sales"`
	BankEntries []bankRecord `json:"bank_entries"`
}

type saleRecord struct {
	Date      time.Time       `json:"date"`
	ID        string          `json:"id"`
	ClientRef string          `json:"client_ref"`
	Amount    decimal.Decimal `json:"amount"`
}

type bankRecord struct {
	PostedAt    time.Time       `json:"posted_at"`
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file.json>",
		Short: "Load sales and bank entries into the ledger",
		Long: `Load structured sales and bank statement lines exported by the sales and
banking workflows. Records are upserted by id; a record whose contents
changed gets a new version, which makes any open proposal over it stale.

Bank entries without a direction are classified by sign: positive amounts
are inflows, negative amounts outflows.`,
		Args: cobra.ExactArgs(1),
		RunE: runLoad,
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = f.Close() }()

	sales, entries, err := parseLedgerFile(f)
	if err != nil {
		return err
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(sales) > 0 {
		if err := s.store.SaveSales(ctx, sales); err != nil {
			return fmt.Errorf("failed to save sales: %w", err)
		}
	}
	if len(entries) > 0 {
		if err := s.store.SaveBankEntries(ctx, entries); err != nil {
			return fmt.Errorf("failed to save bank entries: %w", err)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
		fmt.Sprintf("Loaded %d sales and %d bank entries", len(sales), len(entries))))
	return nil
}

func parseLedgerFile(r io.Reader) ([]model.Sale, []model.BankEntry, error) {
	var file ledgerFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, nil, common.NewUserError("The ledger file is not valid JSON", err)
	}

	sales := make([]model.Sale, 0, len(file.Sales))
	for _, rec := range file.Sales {
		sales = append(sales, model.Sale{
			ID:        rec.ID,
			Date:      rec.Date,
			Amount:    rec.Amount,
			ClientRef: rec.ClientRef,
		})
	}

	entries := make([]model.BankEntry, 0, len(file.BankEntries))
	for _, rec := range file.BankEntries {
		direction, err := parseDirection(rec.Direction, rec.Amount)
		if err != nil {
			return nil, nil, fmt.Errorf("bank entry %s: %w", rec.ID, err)
		}
		amount := rec.Amount
		if direction == model.DirectionOutflow && amount.IsPositive() {
			amount = amount.Neg()
		}
		entries = append(entries, model.BankEntry{
			ID:          rec.ID,
			PostedAt:    rec.PostedAt,
			Amount:      amount,
			Description: rec.Description,
			Direction:   direction,
		})
	}

	return sales, entries, nil
}

func parseDirection(value string, amount decimal.Decimal) (model.Direction, error) {
	switch model.Direction(value) {
	case model.DirectionInflow, model.DirectionOutflow:
		return model.Direction(value), nil
	case "":
		if amount.IsNegative() {
			return model.DirectionOutflow, nil
		}
		return model.DirectionInflow, nil
	default:
		return "", common.NewUserError(fmt.Sprintf("Unknown direction %q (use inflow or outflow)", value), nil)
	}
}
