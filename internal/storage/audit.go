package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Veraticus/tally/internal/audit"
	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

var _ audit.Appender = (*savepointAppender)(nil)

// savepointAppender writes audit entries inside the transition's transaction.
// Each write runs under its own savepoint so a failed append is undone on its
// own and the surrounding transition can still commit.
type savepointAppender struct {
	tx *sql.Tx
}

func (a *savepointAppender) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	if _, err := a.tx.ExecContext(ctx, `SAVEPOINT audit_entry`); err != nil {
		return fmt.Errorf("failed to open audit savepoint: %w", err)
	}

	if err := insertAuditEntry(ctx, a.tx, entry); err != nil {
		if _, rbErr := a.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT audit_entry`); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback failed: %v)", err, rbErr)
		}
		_, _ = a.tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_entry`)
		return err
	}

	if _, err := a.tx.ExecContext(ctx, `RELEASE SAVEPOINT audit_entry`); err != nil {
		return fmt.Errorf("failed to release audit savepoint: %w", err)
	}
	return nil
}

func insertAuditEntry(ctx context.Context, q querier, entry model.AuditEntry) error {
	amounts, err := json.Marshal(entry.Amounts)
	if err != nil {
		return fmt.Errorf("failed to encode audit amounts: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, link_id, from_status, to_status, actor, reason, at, sale_total, bank_total, amounts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LinkID, string(entry.From), string(entry.To), entry.Actor, entry.Reason,
		entry.At, entry.SaleTotal.String(), entry.BankTotal.String(), string(amounts))
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the audit trail of a link in the order it was written.
// An empty link id returns the whole trail.
func (s *SQLiteStorage) ListAuditEntries(ctx context.Context, linkID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, link_id, from_status, to_status, actor, reason, at, sale_total, bank_total, amounts
		FROM audit_entries`
	var args []any
	if linkID != "" {
		query += ` WHERE link_id = ?`
		args = append(args, linkID)
	}
	query += ` ORDER BY at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewPersistenceError("list audit entries", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			entry      model.AuditEntry
			from, to   string
			amountsRaw string
		)
		if err := rows.Scan(&entry.ID, &entry.LinkID, &from, &to, &entry.Actor, &entry.Reason,
			&entry.At, &entry.SaleTotal, &entry.BankTotal, &amountsRaw); err != nil {
			return nil, common.NewPersistenceError("scan audit entry", err)
		}
		entry.From = model.LinkStatus(from)
		entry.To = model.LinkStatus(to)
		if err := json.Unmarshal([]byte(amountsRaw), &entry.Amounts); err != nil {
			return nil, common.NewPersistenceError("decode audit amounts", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewPersistenceError("iterate audit entries", err)
	}
	return entries, nil
}
