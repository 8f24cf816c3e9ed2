package store

import "time"

// ReviewKind classifies what a pending review proposes.
type ReviewKind string

const (
	ReviewKindCorrespondent ReviewKind = "correspondent"
	ReviewKindDocumentType  ReviewKind = "document_type"
	ReviewKindTag           ReviewKind = "tag"
	ReviewKindTitle         ReviewKind = "title"
	ReviewKindSchemaMerge   ReviewKind = "schema_merge"
	ReviewKindSchemaDelete  ReviewKind = "schema_delete"
)

// ValidReviewKind reports whether k is a recognized kind.
func ValidReviewKind(k ReviewKind) bool {
	switch k {
	case ReviewKindCorrespondent, ReviewKindDocumentType, ReviewKindTag,
		ReviewKindTitle, ReviewKindSchemaMerge, ReviewKindSchemaDelete:
		return true
	}
	return false
}

// PendingReview is a durable record of a proposal that requires human action.
// Document-bound kinds keep at most one active row per (DocID, Kind); schema
// rows (merge/delete candidates) are keyed by their entity pair instead,
// carried in Metadata.
type PendingReview struct {
	ID           string            `json:"id"`
	DocID        int               `json:"doc_id"`
	DocTitle     string            `json:"doc_title,omitempty"`
	Kind         ReviewKind        `json:"kind"`
	Suggestion   string            `json:"suggestion"`
	Reasoning    string            `json:"reasoning,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"`
	Attempts     int               `json:"attempts"`
	LastFeedback string            `json:"last_feedback,omitempty"`
	NextTag      string            `json:"next_tag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BlockScope controls how widely a blocked suggestion applies.
type BlockScope string

const (
	// BlockScopeGlobal suppresses the name for every agent.
	BlockScopeGlobal BlockScope = "global"

	// BlockScopeKind suppresses the name only for the recorded kind.
	BlockScopeKind BlockScope = "kind"
)

// BlockedSuggestion suppresses a specific proposal in the future. Created on
// user rejection with a block flag; consulted by agents before emitting
// proposals.
type BlockedSuggestion struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Scope          BlockScope `json:"scope"`
	Kind           ReviewKind `json:"kind,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Category       string     `json:"category,omitempty"`
	DocID          int        `json:"doc_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MetadataTarget selects which entity kind an annotation describes.
type MetadataTarget string

const (
	MetadataTargetTag         MetadataTarget = "tag"
	MetadataTargetCustomField MetadataTarget = "custom_field"
)

// MetadataAnnotation is a human-curated description of a tag or custom
// field, injected into prompts as context.
type MetadataAnnotation struct {
	TargetID            int       `json:"target_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	Category            string    `json:"category,omitempty"`
	ExcludeFromAnalysis bool      `json:"exclude_from_analysis"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// LogEventType classifies a processing-log entry.
type LogEventType string

const (
	LogEventPrompt          LogEventType = "prompt"
	LogEventResponse        LogEventType = "response"
	LogEventThinking        LogEventType = "thinking"
	LogEventToolCall        LogEventType = "tool_call"
	LogEventToolResult      LogEventType = "tool_result"
	LogEventConfirming      LogEventType = "confirming"
	LogEventRetry           LogEventType = "retry"
	LogEventResult          LogEventType = "result"
	LogEventError           LogEventType = "error"
	LogEventContext         LogEventType = "context"
	LogEventStateTransition LogEventType = "state_transition"
)

// LogEntry records one event of a confirmation-loop run. Entries form a
// forest: ParentID references a prior entry so a UI can render the reasoning
// as an expandable tree. Seq preserves insert order.
type LogEntry struct {
	Seq       int64        `json:"seq"`
	ID        string       `json:"id"`
	DocID     int          `json:"doc_id"`
	Step      string       `json:"step,omitempty"`
	EventType LogEventType `json:"event_type"`
	Payload   string       `json:"payload,omitempty"`
	ParentID  string       `json:"parent_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// JobStatus tracks the lifecycle of a long-running background job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusError     JobStatus = "error"
)

// Job is the persisted status row of a background job (bootstrap analyzer,
// scheduled cleanups). Progress carries a JSON snapshot; Schedule holds an
// optional cron expression.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  string    `json:"progress,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
