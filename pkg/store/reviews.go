package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrReviewNotFound is returned when a pending review id does not exist.
var ErrReviewNotFound = errors.New("pending review not found")

// InsertReview persists a pending review. For document-bound kinds (DocID >
// 0) any prior active review of the same (doc, kind) is removed first, in the
// same transaction, so the at-most-one invariant holds.
func (s *Store) InsertReview(ctx context.Context, review *PendingReview) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	if !ValidReviewKind(review.Kind) {
		return fmt.Errorf("invalid review kind: %s", review.Kind)
	}

	now := time.Now().UTC()
	if review.CreatedAt.IsZero() {
		review.CreatedAt = now
	}
	review.UpdatedAt = now

	alternativesJSON, err := json.Marshal(review.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}
	metadataJSON, err := json.Marshal(review.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if review.DocID > 0 {
		deleteQuery := s.rebind(`DELETE FROM pending_reviews WHERE doc_id = ? AND kind = ?`)
		if _, err := tx.ExecContext(ctx, deleteQuery, review.DocID, string(review.Kind)); err != nil {
			return fmt.Errorf("failed to supersede prior review: %w", err)
		}
	}

	insertQuery := s.rebind(`INSERT INTO pending_reviews
        (id, doc_id, doc_title, kind, suggestion, reasoning, alternatives_json,
         attempts, last_feedback, next_tag, metadata_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, insertQuery,
		review.ID, review.DocID, review.DocTitle, string(review.Kind),
		review.Suggestion, review.Reasoning, string(alternativesJSON),
		review.Attempts, review.LastFeedback, review.NextTag,
		string(metadataJSON), review.CreatedAt, review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}

	return tx.Commit()
}

// GetReview fetches one pending review by id.
func (s *Store) GetReview(ctx context.Context, id string) (*PendingReview, error) {
	query := s.rebind(`SELECT id, doc_id, doc_title, kind, suggestion, reasoning,
        alternatives_json, attempts, last_feedback, next_tag, metadata_json,
        created_at, updated_at
        FROM pending_reviews WHERE id = ?`)

	row := s.db.QueryRowContext(ctx, query, id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReviewNotFound
	}
	return review, err
}

// ListReviews returns pending reviews, optionally filtered by kind, oldest
// first.
func (s *Store) ListReviews(ctx context.Context, kind ReviewKind) ([]*PendingReview, error) {
	query := `SELECT id, doc_id, doc_title, kind, suggestion, reasoning,
        alternatives_json, attempts, last_feedback, next_tag, metadata_json,
        created_at, updated_at
        FROM pending_reviews`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*PendingReview
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	return reviews, rows.Err()
}

// CountReviews returns the number of pending reviews per kind.
func (s *Store) CountReviews(ctx context.Context) (map[ReviewKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM pending_reviews GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reviews: %w", err)
	}
	defer rows.Close()

	counts := make(map[ReviewKind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[ReviewKind(kind)] = count
	}
	return counts, rows.Err()
}

// DeleteReview removes a pending review by id. Deleting a missing id is a
// no-op so resolution paths stay idempotent.
func (s *Store) DeleteReview(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM pending_reviews WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	return nil
}

// DeleteReviewsByDocKind removes any active review for a (doc, kind) pair.
// Agents call this when a later run supersedes the queued proposal.
func (s *Store) DeleteReviewsByDocKind(ctx context.Context, docID int, kind ReviewKind) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM pending_reviews WHERE doc_id = ? AND kind = ?`),
		docID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to delete reviews for doc %d kind %s: %w", docID, kind, err)
	}
	return nil
}

// UpdateReview rewrites an existing review row in place.
func (s *Store) UpdateReview(ctx context.Context, review *PendingReview) error {
	review.UpdatedAt = time.Now().UTC()

	alternativesJSON, err := json.Marshal(review.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}
	metadataJSON, err := json.Marshal(review.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := s.rebind(`UPDATE pending_reviews SET
        doc_id = ?, doc_title = ?, kind = ?, suggestion = ?, reasoning = ?,
        alternatives_json = ?, attempts = ?, last_feedback = ?, next_tag = ?,
        metadata_json = ?, updated_at = ?
        WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		review.DocID, review.DocTitle, string(review.Kind), review.Suggestion,
		review.Reasoning, string(alternativesJSON), review.Attempts,
		review.LastFeedback, review.NextTag, string(metadataJSON),
		review.UpdatedAt, review.ID)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// CollapseReviews replaces a set of pending reviews with a single canonical
// record, atomically. Used by the merge-pending operation.
func (s *Store) CollapseReviews(ctx context.Context, ids []string, replacement *PendingReview) error {
	if len(ids) == 0 {
		return fmt.Errorf("no review ids to collapse")
	}
	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	replacement.CreatedAt = now
	replacement.UpdatedAt = now

	alternativesJSON, err := json.Marshal(replacement.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to marshal alternatives: %w", err)
	}
	metadataJSON, err := json.Marshal(replacement.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := s.rebind(`DELETE FROM pending_reviews WHERE id = ?`)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
			return fmt.Errorf("failed to delete review %s: %w", id, err)
		}
	}

	insertQuery := s.rebind(`INSERT INTO pending_reviews
        (id, doc_id, doc_title, kind, suggestion, reasoning, alternatives_json,
         attempts, last_feedback, next_tag, metadata_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, insertQuery,
		replacement.ID, replacement.DocID, replacement.DocTitle,
		string(replacement.Kind), replacement.Suggestion, replacement.Reasoning,
		string(alternativesJSON), replacement.Attempts, replacement.LastFeedback,
		replacement.NextTag, string(metadataJSON),
		replacement.CreatedAt, replacement.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert collapsed review: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*PendingReview, error) {
	var review PendingReview
	var kind string
	var docTitle, reasoning, lastFeedback, nextTag sql.NullString
	var alternativesJSON, metadataJSON sql.NullString

	err := row.Scan(&review.ID, &review.DocID, &docTitle, &kind,
		&review.Suggestion, &reasoning, &alternativesJSON, &review.Attempts,
		&lastFeedback, &nextTag, &metadataJSON,
		&review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		return nil, err
	}

	review.Kind = ReviewKind(kind)
	review.DocTitle = docTitle.String
	review.Reasoning = reasoning.String
	review.LastFeedback = lastFeedback.String
	review.NextTag = nextTag.String

	if alternativesJSON.Valid && alternativesJSON.String != "" && alternativesJSON.String != "null" {
		if err := json.Unmarshal([]byte(alternativesJSON.String), &review.Alternatives); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alternatives: %w", err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &review.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &review, nil
}
