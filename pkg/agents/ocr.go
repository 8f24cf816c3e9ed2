package agents

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/llm"
	"github.com/scribadev/scriba/pkg/observability"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/textextract"
	"github.com/scribadev/scriba/pkg/workflow"
)

// ocrAgent guarantees usable text content before any other step runs.
// The DMS's own OCR is kept when it passes the quality gate; otherwise
// the original file is downloaded and run through the native extractors
// first and the vision model last. There is no confirmation loop here:
// a transcription either passes the gate or the step fails for the
// scheduler to retry.
type ocrAgent struct {
	deps Deps
}

func (a *ocrAgent) Step() workflow.Step { return workflow.StepOCR }

func (a *ocrAgent) Run(ctx context.Context, in *Input) (*Result, error) {
	if textextract.Usable(in.Doc.Content) {
		if err := a.deps.transition(ctx, in); err != nil {
			return nil, err
		}
		return &Result{
			Step:     workflow.StepOCR,
			Success:  true,
			Skipped:  true,
			Value:    fmt.Sprintf("existing text kept (%d characters)", len(in.Doc.Content)),
			Attempts: 0,
		}, nil
	}

	raw, err := a.deps.DMS.DownloadDocument(ctx, in.Doc.ID)
	if err != nil {
		return nil, fmt.Errorf("download document %d: %w", in.Doc.ID, err)
	}
	mime := http.DetectContentType(raw)

	if text, ok := a.nativeExtract(in, raw, mime); ok {
		return a.apply(ctx, in, text, "native extraction")
	}

	text, err := a.transcribe(ctx, in, raw, mime)
	if err != nil {
		return nil, err
	}
	if !textextract.Usable(text) {
		return nil, fmt.Errorf("vision transcription of document %d is unusable (%d characters)",
			in.Doc.ID, len(text))
	}
	return a.apply(ctx, in, text, "vision transcription")
}

// nativeExtract tries the format extractors; anything that fails or
// comes out below the quality gate falls through to the vision model.
func (a *ocrAgent) nativeExtract(in *Input, raw []byte, mime string) (string, bool) {
	if a.deps.Extract == nil {
		return "", false
	}
	text, handled, err := a.deps.Extract.Extract("", mime, raw)
	if err != nil || !handled {
		return "", false
	}
	if !textextract.Usable(text) {
		return "", false
	}
	return text, true
}

// transcribe sends the raw file to the vision model with the OCR
// instruction template. Prompt, response and token usage land in the
// processing log the same way loop-driven steps report theirs.
func (a *ocrAgent) transcribe(ctx context.Context, in *Input, raw []byte, mime string) (string, error) {
	instr, err := a.deps.Prompts.Get(in.lang(), "ocr")
	if err != nil {
		return "", fmt.Errorf("load ocr prompt: %w", err)
	}
	promptID := emit(in, store.LogEventPrompt, instr, "")

	provider, err := a.deps.Models.Provider(ctx, llm.ModelVision)
	if err != nil {
		emit(in, store.LogEventError, err.Error(), promptID)
		return "", err
	}

	req := &llm.Request{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: instr,
			Images:  []llm.Image{{MIME: mime, Data: raw}},
		}},
	}

	start := time.Now()
	resp, err := provider.Generate(ctx, req)
	var promptTokens, outputTokens int
	if resp != nil {
		promptTokens, outputTokens = resp.PromptTokens, resp.OutputTokens
	}
	observability.GetGlobalMetrics().RecordLLMCall(ctx, provider.Name(), time.Since(start), promptTokens, outputTokens, err)
	if err != nil {
		emit(in, store.LogEventError, err.Error(), promptID)
		return "", fmt.Errorf("vision transcription: %w", err)
	}

	emit(in, store.LogEventResponse, resp.Text, promptID)
	return resp.Text, nil
}

func (a *ocrAgent) apply(ctx context.Context, in *Input, text, source string) (*Result, error) {
	if _, err := a.deps.DMS.UpdateDocument(ctx, in.Doc.ID, dms.DocumentPatch{Content: &text}); err != nil {
		return nil, fmt.Errorf("write extracted content: %w", err)
	}
	if err := a.deps.transition(ctx, in); err != nil {
		return nil, err
	}

	emit(in, store.LogEventResult, `{"confirmed":true,"attempts":1}`, "")
	return &Result{
		Step:     workflow.StepOCR,
		Success:  true,
		Value:    fmt.Sprintf("%d characters via %s", len(text), source),
		Attempts: 1,
	}, nil
}
