package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// DefaultPageSize is used when a caller asks for a non-positive page size.
const DefaultPageSize = 50

const linkSelect = `
	SELECT id, candidate_key, status, method, pass, confidence, sale_total, bank_total,
		created_by, confirmed_by, resolved_by, reason, superseded_by,
		created_at, updated_at, confirmed_at, resolved_at
	FROM reconciliation_links`

// GetLink returns a link with its members.
func (s *SQLiteStorage) GetLink(ctx context.Context, id string) (*model.ReconciliationLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	link, err := s.linkByID(ctx, s.db, id)
	if err != nil {
		return nil, common.NewPersistenceError("get link", err)
	}
	if link == nil {
		return nil, &common.NotFoundError{Kind: "link", ID: id}
	}
	return link, nil
}

// ListLinks returns links matching the filter, oldest first.
func (s *SQLiteStorage) ListLinks(ctx context.Context, filter service.LinkFilter) ([]model.ReconciliationLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	if filter.Status != model.LinkNone {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := linkSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	links, err := s.queryLinks(ctx, s.db, query, args...)
	if err != nil {
		return nil, common.NewPersistenceError("list links", err)
	}
	return links, nil
}

// ListConfirmedLinks returns one page of confirmed links ordered by confirmation time.
// Pages are numbered from 1.
func (s *SQLiteStorage) ListConfirmedLinks(ctx context.Context, page, pageSize int) (model.Page[model.ReconciliationLink], error) {
	if err := validateContext(ctx); err != nil {
		return model.Page[model.ReconciliationLink]{}, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	result := model.Page[model.ReconciliationLink]{Page: page, PageSize: pageSize}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reconciliation_links WHERE status = 'confirmed'`).Scan(&result.Total)
	if err != nil {
		return result, common.NewPersistenceError("count confirmed links", err)
	}

	result.Items, err = s.queryLinks(ctx, s.db, linkSelect+`
		WHERE status = 'confirmed'
		ORDER BY confirmed_at, id
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return result, common.NewPersistenceError("list confirmed links", err)
	}
	return result, nil
}

// ListRejectedKeys returns the candidate keys an operator rejected.
// Links rejected because another link won their records are not included.
func (s *SQLiteStorage) ListRejectedKeys(ctx context.Context) (map[string]bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT candidate_key FROM reconciliation_links
		WHERE status = 'rejected' AND superseded_by = ''`)
	if err != nil {
		return nil, common.NewPersistenceError("list rejected keys", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, common.NewPersistenceError("scan rejected key", err)
		}
		keys[key] = true
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewPersistenceError("iterate rejected keys", err)
	}
	return keys, nil
}

func (s *SQLiteStorage) linkByID(ctx context.Context, q querier, id string) (*model.ReconciliationLink, error) {
	links, err := s.queryLinks(ctx, q, linkSelect+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	return &links[0], nil
}

// latestLinkByKey returns the newest open or rejected link for a candidate key,
// preferring an open proposal.
func (s *SQLiteStorage) latestLinkByKey(ctx context.Context, q querier, key string) (*model.ReconciliationLink, error) {
	links, err := s.queryLinks(ctx, q, linkSelect+`
		WHERE candidate_key = ? AND status IN ('proposed', 'rejected')
		ORDER BY status = 'proposed' DESC, created_at DESC
		LIMIT 1`, key)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	return &links[0], nil
}

// overlappingProposals returns proposed links other than excludeID that share a member record.
func (s *SQLiteStorage) overlappingProposals(ctx context.Context, q querier, saleIDs, bankEntryIDs []string, excludeID string) ([]model.ReconciliationLink, error) {
	var (
		subqueries []string
		args       []any
	)
	if len(saleIDs) > 0 {
		subqueries = append(subqueries, `SELECT link_id FROM link_sales WHERE sale_id IN (`+placeholders(len(saleIDs))+`)`)
		args = append(args, stringArgs(saleIDs)...)
	}
	if len(bankEntryIDs) > 0 {
		subqueries = append(subqueries, `SELECT link_id FROM link_bank_entries WHERE bank_entry_id IN (`+placeholders(len(bankEntryIDs))+`)`)
		args = append(args, stringArgs(bankEntryIDs)...)
	}
	if len(subqueries) == 0 {
		return nil, nil
	}
	args = append(args, excludeID)

	return s.queryLinks(ctx, q, linkSelect+`
		WHERE status = 'proposed'
			AND id IN (`+strings.Join(subqueries, " UNION ")+`)
			AND id != ?
		ORDER BY created_at, id`, args...)
}

func (s *SQLiteStorage) queryLinks(ctx context.Context, q querier, query string, args ...any) ([]model.ReconciliationLink, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.ReconciliationLink
	for rows.Next() {
		var (
			link                    model.ReconciliationLink
			status, method, pass    string
			confirmedAt, resolvedAt sql.NullTime
		)
		if err := rows.Scan(&link.ID, &link.CandidateKey, &status, &method, &pass, &link.Confidence,
			&link.SaleTotal, &link.BankTotal, &link.CreatedBy, &link.ConfirmedBy, &link.ResolvedBy,
			&link.Reason, &link.SupersededBy, &link.CreatedAt, &link.UpdatedAt, &confirmedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		link.Status = model.LinkStatus(status)
		link.Method = model.MatchMethod(method)
		link.Pass = model.MatchPass(pass)
		if confirmedAt.Valid {
			link.ConfirmedAt = &confirmedAt.Time
		}
		if resolvedAt.Valid {
			link.ResolvedAt = &resolvedAt.Time
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate links: %w", err)
	}
	_ = rows.Close()

	if err := loadMembers(ctx, q, links); err != nil {
		return nil, err
	}
	return links, nil
}

// loadMembers fills member ids and proposal-time versions, preserving member order.
func loadMembers(ctx context.Context, q querier, links []model.ReconciliationLink) error {
	if len(links) == 0 {
		return nil
	}

	index := make(map[string]int, len(links))
	ids := make([]string, len(links))
	for i, l := range links {
		index[l.ID] = i
		ids[i] = l.ID
	}

	sides := []struct {
		table  string
		column string
		kind   model.RecordKind
	}{
		{"link_sales", "sale_id", model.KindSale},
		{"link_bank_entries", "bank_entry_id", model.KindBankEntry},
	}

	for _, side := range sides {
		rows, err := q.QueryContext(ctx, fmt.Sprintf(`
			SELECT link_id, %s, version FROM %s
			WHERE link_id IN (%s)
			ORDER BY link_id, position`, side.column, side.table, placeholders(len(ids))), stringArgs(ids)...)
		if err != nil {
			return fmt.Errorf("failed to query link members: %w", err)
		}

		for rows.Next() {
			var (
				linkID, recordID string
				version          int64
			)
			if err := rows.Scan(&linkID, &recordID, &version); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan link member: %w", err)
			}
			link := &links[index[linkID]]
			if side.kind == model.KindSale {
				link.SaleIDs = append(link.SaleIDs, recordID)
			} else {
				link.BankEntryIDs = append(link.BankEntryIDs, recordID)
			}
			link.Versions = append(link.Versions, model.RecordVersion{Kind: side.kind, ID: recordID, Version: version})
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return fmt.Errorf("failed to iterate link members: %w", err)
		}
	}
	return nil
}

func insertLink(ctx context.Context, tx *sql.Tx, link model.ReconciliationLink) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reconciliation_links (
			id, candidate_key, status, method, pass, confidence, sale_total, bank_total,
			created_by, confirmed_by, resolved_by, reason, superseded_by,
			created_at, updated_at, confirmed_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.CandidateKey, string(link.Status), string(link.Method), string(link.Pass), link.Confidence,
		link.SaleTotal.String(), link.BankTotal.String(),
		link.CreatedBy, link.ConfirmedBy, link.ResolvedBy, link.Reason, link.SupersededBy,
		link.CreatedAt, link.UpdatedAt, nullTime(link.ConfirmedAt), nullTime(link.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}

	versions := make(map[string]int64, len(link.Versions))
	for _, v := range link.Versions {
		versions[string(v.Kind)+":"+v.ID] = v.Version
	}

	for i, id := range link.SaleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO link_sales (link_id, sale_id, position, version) VALUES (?, ?, ?, ?)`,
			link.ID, id, i, versions[string(model.KindSale)+":"+id]); err != nil {
			return fmt.Errorf("failed to insert link sale: %w", err)
		}
	}
	for i, id := range link.BankEntryIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO link_bank_entries (link_id, bank_entry_id, position, version) VALUES (?, ?, ?, ?)`,
			link.ID, id, i, versions[string(model.KindBankEntry)+":"+id]); err != nil {
			return fmt.Errorf("failed to insert link bank entry: %w", err)
		}
	}
	return nil
}

// updateLink writes the mutable lifecycle columns if the stored status still equals prior.
func updateLink(ctx context.Context, tx *sql.Tx, link model.ReconciliationLink, prior model.LinkStatus) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE reconciliation_links SET
			status = ?, sale_total = ?, bank_total = ?,
			confirmed_by = ?, resolved_by = ?, reason = ?, superseded_by = ?,
			updated_at = ?, confirmed_at = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(link.Status), link.SaleTotal.String(), link.BankTotal.String(),
		link.ConfirmedBy, link.ResolvedBy, link.Reason, link.SupersededBy,
		link.UpdatedAt, nullTime(link.ConfirmedAt), nullTime(link.ResolvedAt),
		link.ID, string(prior))
	if err != nil {
		return false, fmt.Errorf("failed to update link: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
