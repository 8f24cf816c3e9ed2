package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertLogEntry appends one processing-log event. The seq column assigned by
// the database preserves insert order for later tree reconstruction.
func (s *Store) InsertLogEntry(ctx context.Context, entry *LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := s.rebind(`INSERT INTO processing_log
        (id, doc_id, step, event_type, payload, parent_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)

	var parentID any
	if entry.ParentID != "" {
		parentID = entry.ParentID
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.DocID, entry.Step, string(entry.EventType),
		entry.Payload, parentID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns every log event for a document in insert order.
func (s *Store) ListLogEntries(ctx context.Context, docID int) ([]*LogEntry, error) {
	query := s.rebind(`SELECT seq, id, doc_id, step, event_type, payload, parent_id, created_at
        FROM processing_log WHERE doc_id = ? ORDER BY seq`)

	rows, err := s.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var entry LogEntry
		var eventType string
		var payload, parentID sql.NullString
		if err := rows.Scan(&entry.Seq, &entry.ID, &entry.DocID, &entry.Step,
			&eventType, &payload, &parentID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.EventType = LogEventType(eventType)
		entry.Payload = payload.String
		entry.ParentID = parentID.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// DeleteLogEntries drops the full history for a document.
func (s *Store) DeleteLogEntries(ctx context.Context, docID int) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM processing_log WHERE doc_id = ?`), docID)
	if err != nil {
		return fmt.Errorf("failed to delete log entries for doc %d: %w", docID, err)
	}
	return nil
}

// PruneLogEntries removes events older than the cutoff across all documents.
// The scheduled retention job calls this.
func (s *Store) PruneLogEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM processing_log WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
