package workflow

// Step identifies one pipeline processing step.
type Step string

const (
	StepOCR           Step = "ocr"
	StepSummary       Step = "summary"
	StepTitle         Step = "title"
	StepCorrespondent Step = "correspondent"
	StepDocumentType  Step = "document_type"
	StepTags          Step = "tags"
	StepCustomFields  Step = "custom_fields"
)

// Steps lists every step in pipeline order, summary included.
var Steps = []Step{
	StepOCR, StepSummary, StepTitle, StepCorrespondent,
	StepDocumentType, StepTags, StepCustomFields,
}

// ValidStep reports whether s names a known pipeline step.
func ValidStep(s Step) bool {
	for _, step := range Steps {
		if s == step {
			return true
		}
	}
	return false
}

// StepSpec binds a step to the states it consumes and produces.
type StepSpec struct {
	Step   Step
	Input  State
	Output State
}

// Chain returns the active step sequence. The summary step is special: when
// disabled it vanishes from the chain entirely and the title step consumes
// ocr_done directly. Every other disabled step stays in the chain; the
// pipeline auto-transitions it without a model call.
func Chain(summaryEnabled bool) []StepSpec {
	titleInput := StateOCRDone
	if summaryEnabled {
		titleInput = StateSummaryDone
	}

	chain := []StepSpec{
		{Step: StepOCR, Input: StatePending, Output: StateOCRDone},
	}
	if summaryEnabled {
		chain = append(chain, StepSpec{Step: StepSummary, Input: StateOCRDone, Output: StateSummaryDone})
	}
	chain = append(chain,
		StepSpec{Step: StepTitle, Input: titleInput, Output: StateTitleDone},
		StepSpec{Step: StepCorrespondent, Input: StateTitleDone, Output: StateCorrespondentDone},
		StepSpec{Step: StepDocumentType, Input: StateCorrespondentDone, Output: StateDocumentTypeDone},
		StepSpec{Step: StepTags, Input: StateDocumentTypeDone, Output: StateTagsDone},
		StepSpec{Step: StepCustomFields, Input: StateTagsDone, Output: StateProcessed},
	)
	return chain
}

// NextStep returns the step that consumes the given state, or false when the
// document is already processed or carries no state tag.
func NextStep(state State, summaryEnabled bool) (StepSpec, bool) {
	for _, spec := range Chain(summaryEnabled) {
		if spec.Input == state {
			return spec, true
		}
	}
	return StepSpec{}, false
}

// SpecFor returns the chain entry for a named step, used when a caller forces
// a specific step regardless of the document's current state.
func SpecFor(step Step, summaryEnabled bool) (StepSpec, bool) {
	for _, spec := range Chain(summaryEnabled) {
		if spec.Step == step {
			return spec, true
		}
	}
	return StepSpec{}, false
}

// Consumer returns the step that will process a document in the given state,
// resolving the one orphan case NextStep leaves open: a document still on
// summary_done after the summary step was disabled is consumed by the title
// step. Summary is the only step that vanishes from the chain, so no other
// state can be orphaned by a toggle.
func Consumer(state State, summaryEnabled bool) (StepSpec, bool) {
	if spec, ok := NextStep(state, summaryEnabled); ok {
		return spec, true
	}
	if state == StateSummaryDone && !summaryEnabled {
		return SpecFor(StepTitle, false)
	}
	return StepSpec{}, false
}
