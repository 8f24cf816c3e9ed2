package workflow

import "strings"

// State is a document's derived pipeline position. Higher values take
// precedence when a document transiently carries more than one state tag.
type State int

const (
	StateNone State = iota - 1
	StatePending
	StateOCRDone
	StateSummaryDone
	StateTitleDone
	StateCorrespondentDone
	StateDocumentTypeDone
	StateTagsDone
	StateProcessed
)

var stateNames = map[State]string{
	StateNone:              "none",
	StatePending:           "pending",
	StateOCRDone:           "ocr_done",
	StateSummaryDone:       "summary_done",
	StateTitleDone:         "title_done",
	StateCorrespondentDone: "correspondent_done",
	StateDocumentTypeDone:  "document_type_done",
	StateTagsDone:          "tags_done",
	StateProcessed:         "processed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Precedence returns the comparable rank of a state.
func (s State) Precedence() int { return int(s) }

// tagState maps a single tag name onto a state, or StateNone for content tags
// and the orthogonal flags.
func tagState(name string, names TagNames) State {
	switch {
	case strings.EqualFold(name, names.Pending):
		return StatePending
	case strings.EqualFold(name, names.OCRDone):
		return StateOCRDone
	case strings.EqualFold(name, names.SummaryDone):
		return StateSummaryDone
	case strings.EqualFold(name, names.TitleDone):
		return StateTitleDone
	case strings.EqualFold(name, names.CorrespondentDone):
		return StateCorrespondentDone
	case strings.EqualFold(name, names.DocumentTypeDone):
		return StateDocumentTypeDone
	case strings.EqualFold(name, names.TagsDone):
		return StateTagsDone
	case strings.EqualFold(name, names.Processed):
		return StateProcessed
	default:
		return StateNone
	}
}

// StateOf derives the pipeline state from a document's tag names: the
// highest-precedence state tag present wins. Documents with no state tag
// return StateNone and are invisible to the pipeline.
func StateOf(tags []string, names TagNames) State {
	state := StateNone
	for _, tag := range tags {
		if s := tagState(tag, names); s > state {
			state = s
		}
	}
	return state
}

// Tag returns the tag name encoding the given state.
func (n TagNames) Tag(s State) string {
	switch s {
	case StatePending:
		return n.Pending
	case StateOCRDone:
		return n.OCRDone
	case StateSummaryDone:
		return n.SummaryDone
	case StateTitleDone:
		return n.TitleDone
	case StateCorrespondentDone:
		return n.CorrespondentDone
	case StateDocumentTypeDone:
		return n.DocumentTypeDone
	case StateTagsDone:
		return n.TagsDone
	case StateProcessed:
		return n.Processed
	default:
		return ""
	}
}

// StaleTags returns the lower-precedence state tags a document still carries
// alongside its derived state, left over from interrupted transitions. The
// caller may remove them; keeping them is harmless because precedence wins.
func StaleTags(tags []string, names TagNames) []string {
	state := StateOf(tags, names)
	if state == StateNone {
		return nil
	}

	var stale []string
	for _, tag := range tags {
		if s := tagState(tag, names); s != StateNone && s < state {
			stale = append(stale, tag)
		}
	}
	return stale
}

// HasFlag reports whether the tag set carries the given orthogonal flag tag
// (failed or manual_review).
func HasFlag(tags []string, flag string) bool {
	for _, tag := range tags {
		if strings.EqualFold(tag, flag) {
			return true
		}
	}
	return false
}
