package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NormalizeName lowercases and collapses interior whitespace. All blocklist
// and entity-matching comparisons run on normalized names.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// InsertBlocked records a rejected suggestion so later runs never propose it
// again. Re-blocking the same normalized name within the same scope updates
// the existing row instead of accumulating duplicates.
func (s *Store) InsertBlocked(ctx context.Context, blocked *BlockedSuggestion) error {
	if blocked.ID == "" {
		blocked.ID = uuid.NewString()
	}
	blocked.NormalizedName = NormalizeName(blocked.Name)
	if blocked.CreatedAt.IsZero() {
		blocked.CreatedAt = time.Now().UTC()
	}
	if blocked.Scope == "" {
		blocked.Scope = BlockScopeGlobal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := s.rebind(`DELETE FROM blocked_suggestions
        WHERE normalized_name = ? AND scope = ? AND kind = ?`)
	if _, err := tx.ExecContext(ctx, deleteQuery,
		blocked.NormalizedName, string(blocked.Scope), string(blocked.Kind)); err != nil {
		return fmt.Errorf("failed to replace blocked suggestion: %w", err)
	}

	insertQuery := s.rebind(`INSERT INTO blocked_suggestions
        (id, name, normalized_name, scope, kind, reason, category, doc_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQuery,
		blocked.ID, blocked.Name, blocked.NormalizedName, string(blocked.Scope),
		string(blocked.Kind), blocked.Reason, blocked.Category, blocked.DocID,
		blocked.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert blocked suggestion: %w", err)
	}

	return tx.Commit()
}

// IsBlocked reports whether a name is blocked for the given kind, either
// globally or scoped to that kind.
func (s *Store) IsBlocked(ctx context.Context, name string, kind ReviewKind) (bool, error) {
	query := s.rebind(`SELECT COUNT(*) FROM blocked_suggestions
        WHERE normalized_name = ? AND (scope = ? OR (scope = ? AND kind = ?))`)

	var count int
	err := s.db.QueryRowContext(ctx, query,
		NormalizeName(name), string(BlockScopeGlobal), string(BlockScopeKind),
		string(kind)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check blocklist: %w", err)
	}
	return count > 0, nil
}

// ListBlocked returns blocked suggestions applicable to the given kind:
// global rows plus rows scoped to that kind. An empty kind returns every row.
func (s *Store) ListBlocked(ctx context.Context, kind ReviewKind) ([]*BlockedSuggestion, error) {
	query := `SELECT id, name, normalized_name, scope, kind, reason, category, doc_id, created_at
        FROM blocked_suggestions`
	args := []any{}
	if kind != "" {
		query += ` WHERE scope = ? OR (scope = ? AND kind = ?)`
		args = append(args, string(BlockScopeGlobal), string(BlockScopeKind), string(kind))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked suggestions: %w", err)
	}
	defer rows.Close()

	var blocked []*BlockedSuggestion
	for rows.Next() {
		b, err := scanBlocked(rows)
		if err != nil {
			return nil, err
		}
		blocked = append(blocked, b)
	}
	return blocked, rows.Err()
}

// DeleteBlocked removes a blocklist entry by id.
func (s *Store) DeleteBlocked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM blocked_suggestions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete blocked suggestion: %w", err)
	}
	return nil
}

func scanBlocked(row rowScanner) (*BlockedSuggestion, error) {
	var b BlockedSuggestion
	var scope, kind string
	var reason, category sql.NullString
	var docID sql.NullInt64

	err := row.Scan(&b.ID, &b.Name, &b.NormalizedName, &scope, &kind,
		&reason, &category, &docID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	b.Scope = BlockScope(scope)
	b.Kind = ReviewKind(kind)
	b.Reason = reason.String
	b.Category = category.String
	b.DocID = int(docID.Int64)
	return &b, nil
}
