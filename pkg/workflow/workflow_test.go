package workflow

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestStateOf(t *testing.T) {
	names := DefaultTagNames()

	tests := []struct {
		name string
		tags []string
		want State
	}{
		{"no tags", nil, StateNone},
		{"content tags only", []string{"finance", "2024"}, StateNone},
		{"pending", []string{"ai:pending"}, StatePending},
		{"single state tag", []string{"ai:title-done", "finance"}, StateTitleDone},
		{"highest precedence wins", []string{"ai:ocr-done", "ai:tags-done"}, StateTagsDone},
		{"processed beats everything", []string{"ai:processed", "ai:pending", "ai:title-done"}, StateProcessed},
		{"case insensitive", []string{"AI:Correspondent-Done"}, StateCorrespondentDone},
		{"flags do not encode state", []string{"ai:failed", "ai:manual-review"}, StateNone},
		{"flag alongside state", []string{"ai:manual-review", "ai:ocr-done"}, StateOCRDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(tt.tags, names); got != tt.want {
				t.Errorf("StateOf(%v) = %v, want %v", tt.tags, got, tt.want)
			}
		})
	}
}

func TestChain_SummaryDisabled(t *testing.T) {
	chain := Chain(false)

	for _, spec := range chain {
		if spec.Step == StepSummary {
			t.Fatal("summary step present in chain with summary disabled")
		}
	}

	title, ok := SpecFor(StepTitle, false)
	if !ok {
		t.Fatal("title step missing from chain")
	}
	if title.Input != StateOCRDone {
		t.Errorf("title input = %v, want %v", title.Input, StateOCRDone)
	}
	if len(chain) != 6 {
		t.Errorf("chain length = %d, want 6", len(chain))
	}
}

func TestChain_SummaryEnabled(t *testing.T) {
	chain := Chain(true)

	summary, ok := SpecFor(StepSummary, true)
	if !ok {
		t.Fatal("summary step missing from chain with summary enabled")
	}
	if summary.Input != StateOCRDone || summary.Output != StateSummaryDone {
		t.Errorf("summary spec = %v→%v, want %v→%v",
			summary.Input, summary.Output, StateOCRDone, StateSummaryDone)
	}

	title, _ := SpecFor(StepTitle, true)
	if title.Input != StateSummaryDone {
		t.Errorf("title input = %v, want %v", title.Input, StateSummaryDone)
	}
	if len(chain) != 7 {
		t.Errorf("chain length = %d, want 7", len(chain))
	}
}

func TestNextStep(t *testing.T) {
	tests := []struct {
		state          State
		summaryEnabled bool
		wantStep       Step
		wantOK         bool
	}{
		{StatePending, false, StepOCR, true},
		{StateOCRDone, false, StepTitle, true},
		{StateOCRDone, true, StepSummary, true},
		{StateSummaryDone, true, StepTitle, true},
		{StateTitleDone, false, StepCorrespondent, true},
		{StateCorrespondentDone, false, StepDocumentType, true},
		{StateDocumentTypeDone, false, StepTags, true},
		{StateTagsDone, false, StepCustomFields, true},
		{StateProcessed, false, "", false},
		{StateNone, false, "", false},
		// summary_done with summary since disabled: still resumable via title.
		{StateSummaryDone, false, "", false},
	}

	for _, tt := range tests {
		spec, ok := NextStep(tt.state, tt.summaryEnabled)
		if ok != tt.wantOK {
			t.Errorf("NextStep(%v, %v) ok = %v, want %v", tt.state, tt.summaryEnabled, ok, tt.wantOK)
			continue
		}
		if ok && spec.Step != tt.wantStep {
			t.Errorf("NextStep(%v, %v) = %v, want %v", tt.state, tt.summaryEnabled, spec.Step, tt.wantStep)
		}
	}
}

func TestConsumer_RescuesOrphanedSummaryDone(t *testing.T) {
	spec, ok := Consumer(StateSummaryDone, false)
	if !ok || spec.Step != StepTitle {
		t.Fatalf("Consumer(summary_done, disabled) = %v, %v; want title step", spec.Step, ok)
	}

	// Everything else matches NextStep exactly.
	for state := StatePending; state <= StateTagsDone; state++ {
		for _, summary := range []bool{true, false} {
			if state == StateSummaryDone && !summary {
				continue
			}
			got, gotOK := Consumer(state, summary)
			want, wantOK := NextStep(state, summary)
			if got != want || gotOK != wantOK {
				t.Errorf("Consumer(%v, %v) = %v, %v; NextStep gives %v, %v",
					state, summary, got, gotOK, want, wantOK)
			}
		}
	}
	if _, ok := Consumer(StateProcessed, true); ok {
		t.Error("Consumer(processed) should report no step")
	}
}

func TestStaleTags(t *testing.T) {
	names := DefaultTagNames()

	tags := []string{"ai:pending", "ai:ocr-done", "ai:title-done", "finance"}
	stale := StaleTags(tags, names)
	if len(stale) != 2 {
		t.Fatalf("StaleTags() = %v, want 2 entries", stale)
	}
	for _, tag := range stale {
		if tag != "ai:pending" && tag != "ai:ocr-done" {
			t.Errorf("unexpected stale tag %q", tag)
		}
	}

	if stale := StaleTags([]string{"ai:processed"}, names); len(stale) != 0 {
		t.Errorf("single state tag produced stale list %v", stale)
	}
	if stale := StaleTags([]string{"finance"}, names); stale != nil {
		t.Errorf("content tags produced stale list %v", stale)
	}
}

func TestTagNames_Validate(t *testing.T) {
	if !DefaultTagNames().Validate() {
		t.Error("default tag names should validate")
	}

	dup := DefaultTagNames()
	dup.Failed = dup.Pending
	if dup.Validate() {
		t.Error("duplicate names should not validate")
	}

	empty := DefaultTagNames()
	empty.TagsDone = ""
	if empty.Validate() {
		t.Error("empty name should not validate")
	}
}

func TestIsWorkflowTag(t *testing.T) {
	names := DefaultTagNames()

	if !names.IsWorkflowTag("ai:pending") {
		t.Error("ai:pending should be a workflow tag")
	}
	if !names.IsWorkflowTag("AI:PROCESSED") {
		t.Error("workflow tag check should be case-insensitive")
	}
	if names.IsWorkflowTag("finance") {
		t.Error("content tag misidentified as workflow tag")
	}
}

func TestHasFlag(t *testing.T) {
	if !HasFlag([]string{"finance", "ai:manual-review"}, "ai:manual-review") {
		t.Error("HasFlag missed present flag")
	}
	if HasFlag([]string{"finance"}, "ai:failed") {
		t.Error("HasFlag found absent flag")
	}
}

func TestStateDerivationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := DefaultTagNames()
	anyTag := gen.OneConstOf(
		"ai:pending", "ai:ocr-done", "ai:summary-done", "ai:title-done",
		"ai:correspondent-done", "ai:document-type-done", "ai:tags-done",
		"ai:processed", "ai:failed", "ai:manual-review",
		"finance", "insurance", "2024", "scanned",
	)

	properties.Property("derived state is always well-defined", prop.ForAll(
		func(tags []string) bool {
			state := StateOf(tags, names)
			return state >= StateNone && state <= StateProcessed
		},
		gen.SliceOf(anyTag),
	))

	properties.Property("derived state is order-independent", prop.ForAll(
		func(tags []string) bool {
			reversed := make([]string, len(tags))
			for i, tag := range tags {
				reversed[len(tags)-1-i] = tag
			}
			return StateOf(tags, names) == StateOf(reversed, names)
		},
		gen.SliceOf(anyTag),
	))

	properties.Property("adding a lower-precedence tag never changes the state", prop.ForAll(
		func(tags []string) bool {
			state := StateOf(tags, names)
			if state <= StatePending {
				return true
			}
			lower := names.Tag(state - 1)
			return StateOf(append(tags, lower), names) == state
		},
		gen.SliceOf(anyTag),
	))

	properties.Property("stale tags rank strictly below the derived state", prop.ForAll(
		func(tags []string) bool {
			state := StateOf(tags, names)
			for _, tag := range StaleTags(tags, names) {
				if s := StateOf([]string{tag}, names); s >= state || s == StateNone {
					return false
				}
			}
			return true
		},
		gen.SliceOf(anyTag),
	))

	properties.TestingRun(t)
}

func TestChainMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("every step strictly advances state precedence", prop.ForAll(
		func(summaryEnabled bool) bool {
			for _, spec := range Chain(summaryEnabled) {
				if spec.Output.Precedence() <= spec.Input.Precedence() {
					return false
				}
			}
			return true
		},
		gen.Bool(),
	))

	properties.Property("chain inputs are unique so each state has one next step", prop.ForAll(
		func(summaryEnabled bool) bool {
			seen := make(map[State]bool)
			for _, spec := range Chain(summaryEnabled) {
				if seen[spec.Input] {
					return false
				}
				seen[spec.Input] = true
			}
			return true
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
