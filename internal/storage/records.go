package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/match"
	"github.com/Veraticus/tally/internal/model"
	"github.com/shopspring/decimal"
)

// Record status is derived from the confirmed link a record belongs to, so
// every read joins through the membership tables instead of a status column.
const (
	saleSelect = `
		SELECT s.id, s.date, s.amount, s.client_ref, s.version,
			COALESCE(l.id, ''), COALESCE(l.sale_total, '0'), COALESCE(l.bank_total, '0')
		FROM sales s
		LEFT JOIN link_sales ls ON ls.sale_id = s.id
			AND ls.link_id IN (SELECT id FROM reconciliation_links WHERE status = 'confirmed')
		LEFT JOIN reconciliation_links l ON l.id = ls.link_id`

	bankEntrySelect = `
		SELECT b.id, b.posted_at, b.amount, b.direction, b.description, b.version,
			COALESCE(l.id, ''), COALESCE(l.sale_total, '0'), COALESCE(l.bank_total, '0')
		FROM bank_entries b
		LEFT JOIN link_bank_entries lb ON lb.bank_entry_id = b.id
			AND lb.link_id IN (SELECT id FROM reconciliation_links WHERE status = 'confirmed')
		LEFT JOIN reconciliation_links l ON l.id = lb.link_id`
)

// ListUnreconciledSales returns sales dated on or before asOf that belong to no confirmed link.
func (s *SQLiteStorage) ListUnreconciledSales(ctx context.Context, asOf time.Time) ([]model.Sale, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	sales, err := s.querySales(ctx, s.db, saleSelect+`
		WHERE l.id IS NULL AND s.date <= ?
		ORDER BY s.date, s.id`, asOf.UTC())
	if err != nil {
		return nil, common.NewPersistenceError("list unreconciled sales", err)
	}
	return sales, nil
}

// ListUnreconciledInflows returns inflow entries posted on or before asOf that belong to no confirmed link.
func (s *SQLiteStorage) ListUnreconciledInflows(ctx context.Context, asOf time.Time) ([]model.BankEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	entries, err := s.queryBankEntries(ctx, s.db, bankEntrySelect+`
		WHERE l.id IS NULL AND b.direction = 'inflow' AND b.posted_at <= ?
		ORDER BY b.posted_at, b.id`, asOf.UTC())
	if err != nil {
		return nil, common.NewPersistenceError("list unreconciled inflows", err)
	}
	return entries, nil
}

// GetSales returns the requested sales in the order given.
func (s *SQLiteStorage) GetSales(ctx context.Context, ids []string) ([]model.Sale, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	byID, err := s.salesByID(ctx, s.db, ids)
	if err != nil {
		return nil, common.NewPersistenceError("get sales", err)
	}

	sales := make([]model.Sale, 0, len(ids))
	for _, id := range ids {
		sale, ok := byID[id]
		if !ok {
			return nil, &common.NotFoundError{Kind: "sale", ID: id}
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

// GetBankEntries returns the requested bank entries in the order given.
func (s *SQLiteStorage) GetBankEntries(ctx context.Context, ids []string) ([]model.BankEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	byID, err := s.bankEntriesByID(ctx, s.db, ids)
	if err != nil {
		return nil, common.NewPersistenceError("get bank entries", err)
	}

	entries := make([]model.BankEntry, 0, len(ids))
	for _, id := range ids {
		entry, ok := byID[id]
		if !ok {
			return nil, &common.NotFoundError{Kind: "bank entry", ID: id}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SaveSales inserts or updates sales. Changing an existing sale advances its
// version so proposals made against the old values go stale.
func (s *SQLiteStorage) SaveSales(ctx context.Context, sales []model.Sale) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSales(sales); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.NewPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sales (id, date, amount, client_ref, version)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			amount = excluded.amount,
			client_ref = excluded.client_ref,
			version = sales.version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE sales.date != excluded.date
			OR sales.amount != excluded.amount
			OR sales.client_ref != excluded.client_ref
	`)
	if err != nil {
		return common.NewPersistenceError("prepare sale upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sale := range sales {
		if _, err := stmt.ExecContext(ctx, sale.ID, sale.Date.UTC(), sale.Amount.String(), sale.ClientRef); err != nil {
			return common.NewPersistenceError("save sale "+sale.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return common.NewPersistenceError("commit sales", err)
	}
	return nil
}

// SaveBankEntries inserts or updates bank entries, advancing the version of changed rows.
func (s *SQLiteStorage) SaveBankEntries(ctx context.Context, entries []model.BankEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBankEntries(entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.NewPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bank_entries (id, posted_at, amount, direction, description, version)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			posted_at = excluded.posted_at,
			amount = excluded.amount,
			direction = excluded.direction,
			description = excluded.description,
			version = bank_entries.version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE bank_entries.posted_at != excluded.posted_at
			OR bank_entries.amount != excluded.amount
			OR bank_entries.direction != excluded.direction
			OR bank_entries.description != excluded.description
	`)
	if err != nil {
		return common.NewPersistenceError("prepare bank entry upsert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.ID, entry.PostedAt.UTC(), entry.Amount.String(), string(entry.Direction), entry.Description); err != nil {
			return common.NewPersistenceError("save bank entry "+entry.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return common.NewPersistenceError("commit bank entries", err)
	}
	return nil
}

func (s *SQLiteStorage) salesByID(ctx context.Context, q querier, ids []string) (map[string]model.Sale, error) {
	byID := make(map[string]model.Sale, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	sales, err := s.querySales(ctx, q, saleSelect+`
		WHERE s.id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, sale := range sales {
		byID[sale.ID] = sale
	}
	return byID, nil
}

func (s *SQLiteStorage) bankEntriesByID(ctx context.Context, q querier, ids []string) (map[string]model.BankEntry, error) {
	byID := make(map[string]model.BankEntry, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	entries, err := s.queryBankEntries(ctx, q, bankEntrySelect+`
		WHERE b.id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		byID[entry.ID] = entry
	}
	return byID, nil
}

func (s *SQLiteStorage) querySales(ctx context.Context, q querier, query string, args ...any) ([]model.Sale, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sales []model.Sale
	for rows.Next() {
		var (
			sale                 model.Sale
			saleTotal, bankTotal decimal.Decimal
		)
		if err := rows.Scan(&sale.ID, &sale.Date, &sale.Amount, &sale.ClientRef, &sale.Version,
			&sale.ConfirmedLinkID, &saleTotal, &bankTotal); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sale.Status = deriveStatus(model.KindSale, sale.ConfirmedLinkID, saleTotal, bankTotal)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sales: %w", err)
	}
	_ = rows.Close()

	memberships, err := linkMemberships(ctx, q, "link_sales", "sale_id", saleIDs(sales))
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].LinkIDs = memberships[sales[i].ID]
	}
	return sales, nil
}

func (s *SQLiteStorage) queryBankEntries(ctx context.Context, q querier, query string, args ...any) ([]model.BankEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.BankEntry
	for rows.Next() {
		var (
			entry                model.BankEntry
			direction            string
			saleTotal, bankTotal decimal.Decimal
		)
		if err := rows.Scan(&entry.ID, &entry.PostedAt, &entry.Amount, &direction, &entry.Description, &entry.Version,
			&entry.ConfirmedLinkID, &saleTotal, &bankTotal); err != nil {
			return nil, fmt.Errorf("failed to scan bank entry: %w", err)
		}
		entry.Direction = model.Direction(direction)
		entry.Status = deriveStatus(model.KindBankEntry, entry.ConfirmedLinkID, saleTotal, bankTotal)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bank entries: %w", err)
	}
	_ = rows.Close()

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	memberships, err := linkMemberships(ctx, q, "link_bank_entries", "bank_entry_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].LinkIDs = memberships[entries[i].ID]
	}
	return entries, nil
}

func deriveStatus(kind model.RecordKind, confirmedLinkID string, saleTotal, bankTotal decimal.Decimal) model.ReconciliationStatus {
	if confirmedLinkID == "" {
		return model.StatusUnreconciled
	}
	return match.DeriveStatus(kind, &model.ReconciliationLink{
		Status:    model.LinkConfirmed,
		SaleTotal: saleTotal,
		BankTotal: bankTotal,
	})
}

// linkMemberships maps record ids to every link they participate in.
func linkMemberships(ctx context.Context, q querier, table, column string, ids []string) (map[string][]string, error) {
	memberships := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return memberships, nil
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT m.%[2]s, m.link_id
		FROM %[1]s m
		JOIN reconciliation_links l ON l.id = m.link_id
		WHERE m.%[2]s IN (%[3]s)
		ORDER BY l.created_at, m.link_id`, table, column, placeholders(len(ids))), stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query link memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var recordID, linkID string
		if err := rows.Scan(&recordID, &linkID); err != nil {
			return nil, fmt.Errorf("failed to scan link membership: %w", err)
		}
		memberships[recordID] = append(memberships[recordID], linkID)
	}
	return memberships, rows.Err()
}

// bumpVersion advances a record version only if it still holds the expected value.
func bumpVersion(ctx context.Context, tx *sql.Tx, v model.RecordVersion, at time.Time) (bool, error) {
	table := "sales"
	if v.Kind == model.KindBankEntry {
		table = "bank_entries"
	}

	result, err := tx.ExecContext(ctx, `UPDATE `+table+`
		SET version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`, at, v.ID, v.Version)
	if err != nil {
		return false, fmt.Errorf("failed to bump %s %s: %w", v.Kind, v.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

func saleIDs(sales []model.Sale) []string {
	ids := make([]string, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
	}
	return ids
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
