// Package workflow derives pipeline state from a document's tag set and maps
// states to processing steps. State lives in the DMS's own tags so it stays
// visible and editable in the DMS UI; nothing here persists anything.
package workflow

import "strings"

// TagNames holds the ten reserved tag names that encode pipeline state.
// Operators may rename them in settings; the struct fields fix the roles.
type TagNames struct {
	Pending           string `mapstructure:"pending" json:"pending"`
	OCRDone           string `mapstructure:"ocr_done" json:"ocr_done"`
	SummaryDone       string `mapstructure:"summary_done" json:"summary_done"`
	TitleDone         string `mapstructure:"title_done" json:"title_done"`
	CorrespondentDone string `mapstructure:"correspondent_done" json:"correspondent_done"`
	DocumentTypeDone  string `mapstructure:"document_type_done" json:"document_type_done"`
	TagsDone          string `mapstructure:"tags_done" json:"tags_done"`
	Processed         string `mapstructure:"processed" json:"processed"`
	Failed            string `mapstructure:"failed" json:"failed"`
	ManualReview      string `mapstructure:"manual_review" json:"manual_review"`
}

// DefaultTagNames returns the out-of-the-box workflow tag names.
func DefaultTagNames() TagNames {
	return TagNames{
		Pending:           "ai:pending",
		OCRDone:           "ai:ocr-done",
		SummaryDone:       "ai:summary-done",
		TitleDone:         "ai:title-done",
		CorrespondentDone: "ai:correspondent-done",
		DocumentTypeDone:  "ai:document-type-done",
		TagsDone:          "ai:tags-done",
		Processed:         "ai:processed",
		Failed:            "ai:failed",
		ManualReview:      "ai:manual-review",
	}
}

// Validate checks that all ten names are set and distinct.
func (n TagNames) Validate() bool {
	names := n.All()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			return false
		}
		seen[key] = true
	}
	return true
}

// All returns every workflow tag name, monotonic tags first in precedence
// order, then the two orthogonal flags.
func (n TagNames) All() []string {
	return []string{
		n.Pending, n.OCRDone, n.SummaryDone, n.TitleDone,
		n.CorrespondentDone, n.DocumentTypeDone, n.TagsDone, n.Processed,
		n.Failed, n.ManualReview,
	}
}

// Monotonic returns the state-encoding tag names in ascending precedence
// order. The scheduler scans these (minus Processed) for eligible work.
func (n TagNames) Monotonic() []string {
	return []string{
		n.Pending, n.OCRDone, n.SummaryDone, n.TitleDone,
		n.CorrespondentDone, n.DocumentTypeDone, n.TagsDone, n.Processed,
	}
}

// IsWorkflowTag reports whether name is one of the reserved tags.
// Comparison is case-insensitive to match DMS tag-name semantics.
func (n TagNames) IsWorkflowTag(name string) bool {
	for _, reserved := range n.All() {
		if strings.EqualFold(name, reserved) {
			return true
		}
	}
	return false
}
