// Package proclog records what happened during a document's confirmation
// loops: every prompt, response, tool call and result, as a forest of
// entries a UI can render as an expandable tree.
//
// Emission never blocks the caller. Entries go onto a buffered queue
// drained by one writer goroutine; a full queue drops the entry with a
// warning rather than stalling a model call. Reads flush the queue first
// so they see every entry emitted before them.
package proclog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribadev/scriba/pkg/store"
)

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

// Event is one processing-log emission. ParentID, when set, must be the
// id returned by an earlier Emit for the same document.
type Event struct {
	DocID    int
	Step     string
	Type     store.LogEventType
	Payload  string
	ParentID string
}

// Logger persists processing-log events through a background writer.
type Logger struct {
	store *store.Store

	queue   chan *store.LogEntry
	flushes chan chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New starts the writer goroutine. Callers own the store's lifecycle;
// Close stops the writer but leaves the store open.
func New(st *store.Store) *Logger {
	l := &Logger{
		store:   st,
		queue:   make(chan *store.LogEntry, queueSize),
		flushes: make(chan chan struct{}, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Emit queues one event and returns its assigned id, usable as the
// ParentID of later events. Emit never blocks: with the queue full or the
// logger closed the entry is dropped and only the id is returned.
func (l *Logger) Emit(e Event) string {
	entry := &store.LogEntry{
		ID:        uuid.NewString(),
		DocID:     e.DocID,
		Step:      e.Step,
		EventType: e.Type,
		Payload:   e.Payload,
		ParentID:  e.ParentID,
		CreatedAt: time.Now().UTC(),
	}

	select {
	case <-l.done:
		return entry.ID
	default:
	}

	select {
	case l.queue <- entry:
	default:
		slog.Warn("Processing log queue full, dropping entry",
			"doc_id", e.DocID, "event", string(e.Type))
	}
	return entry.ID
}

// Entries returns every event for a document in emit order.
func (l *Logger) Entries(ctx context.Context, docID int) ([]*store.LogEntry, error) {
	if err := l.flush(ctx); err != nil {
		return nil, err
	}
	return l.store.ListLogEntries(ctx, docID)
}

// Tree returns the document's events as a forest in emit order.
func (l *Logger) Tree(ctx context.Context, docID int) ([]*Node, error) {
	entries, err := l.Entries(ctx, docID)
	if err != nil {
		return nil, err
	}
	return BuildTree(entries), nil
}

// Clear drops the full history for a document.
func (l *Logger) Clear(ctx context.Context, docID int) error {
	if err := l.flush(ctx); err != nil {
		return err
	}
	return l.store.DeleteLogEntries(ctx, docID)
}

// Prune removes events older than the cutoff across all documents and
// returns how many were dropped. The scheduled retention job calls this.
func (l *Logger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := l.flush(ctx); err != nil {
		return 0, err
	}
	return l.store.PruneLogEntries(ctx, cutoff)
}

// Close drains the queue and stops the writer. Emit after Close is a
// no-op.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		_ = l.flush(context.Background())
		close(l.done)
		<-l.stopped
	})
	return nil
}

// flush blocks until every entry queued before the call is written.
func (l *Logger) flush(ctx context.Context) error {
	select {
	case <-l.stopped:
		return nil
	default:
	}

	resp := make(chan struct{}, 1)
	select {
	case l.flushes <- resp:
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-resp:
		return nil
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) run() {
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			l.drain()
			return
		case entry := <-l.queue:
			l.write(entry)
		case resp := <-l.flushes:
			l.drain()
			resp <- struct{}{}
		}
	}
}

// drain writes everything currently queued without blocking for more.
func (l *Logger) drain() {
	for {
		select {
		case entry := <-l.queue:
			l.write(entry)
		default:
			return
		}
	}
}

func (l *Logger) write(entry *store.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := l.store.InsertLogEntry(ctx, entry); err != nil {
		slog.Warn("Failed to persist processing log entry",
			"doc_id", entry.DocID, "event", string(entry.EventType), "error", err)
	}
}

// Node is one entry with its children, a view for UI rendering.
type Node struct {
	*store.LogEntry
	Children []*Node `json:"children,omitempty"`
}

// BuildTree arranges entries into a forest. Entries arrive in emit order
// and keep it: roots in the returned slice and children under each node
// stay ordered by seq. An entry referencing an unknown parent (pruned or
// never written) becomes a root rather than disappearing.
func BuildTree(entries []*store.LogEntry) []*Node {
	nodes := make(map[string]*Node, len(entries))
	var roots []*Node

	for _, entry := range entries {
		nodes[entry.ID] = &Node{LogEntry: entry}
	}
	for _, entry := range entries {
		node := nodes[entry.ID]
		if parent, ok := nodes[entry.ParentID]; ok && entry.ParentID != entry.ID {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}
