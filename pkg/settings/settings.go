// Package settings provides the runtime-mutable configuration of the
// processing core. Values live in the store's key/value table under dotted
// keys and are re-read at the start of every operation; callers must never
// hold a Settings value across calls, because operators retune models,
// intervals, and step toggles while the system runs.
package settings

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/robfig/cron/v3"

	"github.com/scribadev/scriba/pkg/workflow"
)

// ModelSettings names one logical model and where to reach it.
type ModelSettings struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
	URL      string `mapstructure:"url" json:"url"`
	APIKey   string `mapstructure:"api_key" json:"api_key"`
}

// IsConfigured reports whether the model can be resolved at all.
func (m ModelSettings) IsConfigured() bool {
	return m.Provider != "" && m.Model != ""
}

// LLMSettings holds the logical models. Large does structured reasoning and
// tool use, small does low-temperature confirmation, vision backs OCR
// re-extraction, translation optionally overrides the summary step.
type LLMSettings struct {
	Large       ModelSettings `mapstructure:"large" json:"large"`
	Small       ModelSettings `mapstructure:"small" json:"small"`
	Vision      ModelSettings `mapstructure:"vision" json:"vision"`
	Translation ModelSettings `mapstructure:"translation" json:"translation"`
}

// ForRole returns the model settings for a logical role name.
func (l LLMSettings) ForRole(role string) (ModelSettings, error) {
	switch role {
	case "large":
		return l.Large, nil
	case "small":
		return l.Small, nil
	case "vision":
		return l.Vision, nil
	case "translation":
		return l.Translation, nil
	default:
		return ModelSettings{}, fmt.Errorf("unknown model role: %s", role)
	}
}

// DMSSettings points at the document management service.
type DMSSettings struct {
	URL   string `mapstructure:"url" json:"url"`
	Token string `mapstructure:"token" json:"token"`
}

// VectorSettings selects and configures the similarity store.
type VectorSettings struct {
	Provider   string `mapstructure:"provider" json:"provider"`
	URL        string `mapstructure:"url" json:"url"`
	APIKey     string `mapstructure:"api_key" json:"api_key"`
	Collection string `mapstructure:"collection" json:"collection"`
	Path       string `mapstructure:"path" json:"path"`
}

// EmbeddingSettings configures the embedder feeding the vector store.
type EmbeddingSettings struct {
	Provider   string `mapstructure:"provider" json:"provider"`
	Model      string `mapstructure:"model" json:"model"`
	URL        string `mapstructure:"url" json:"url"`
	APIKey     string `mapstructure:"api_key" json:"api_key"`
	Dimensions int    `mapstructure:"dimensions" json:"dimensions"`
}

// StepToggles enables or disables individual pipeline steps.
type StepToggles struct {
	OCR           bool `mapstructure:"ocr" json:"ocr"`
	Summary       bool `mapstructure:"summary" json:"summary"`
	Title         bool `mapstructure:"title" json:"title"`
	Correspondent bool `mapstructure:"correspondent" json:"correspondent"`
	DocumentType  bool `mapstructure:"document_type" json:"document_type"`
	Tags          bool `mapstructure:"tags" json:"tags"`
	CustomFields  bool `mapstructure:"custom_fields" json:"custom_fields"`
}

// AutoSettings controls the background processing loop.
type AutoSettings struct {
	Enabled         bool `mapstructure:"enabled" json:"enabled"`
	IntervalMinutes int  `mapstructure:"interval_minutes" json:"interval_minutes"`
}

// LoopSettings bounds the confirmation loop.
type LoopSettings struct {
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	ToolBudget int `mapstructure:"tool_budget" json:"tool_budget"`
}

// PromptSettings selects the active prompt language.
type PromptSettings struct {
	Language string `mapstructure:"language" json:"language"`
}

// CleanupSettings configures scheduled maintenance.
type CleanupSettings struct {
	Schedule         string `mapstructure:"schedule" json:"schedule"`
	LogRetentionDays int    `mapstructure:"log_retention_days" json:"log_retention_days"`
}

// Settings is the full runtime configuration.
type Settings struct {
	DMS       DMSSettings       `mapstructure:"dms" json:"dms"`
	LLM       LLMSettings       `mapstructure:"llm" json:"llm"`
	Vector    VectorSettings    `mapstructure:"vector" json:"vector"`
	Embedding EmbeddingSettings `mapstructure:"embedding" json:"embedding"`
	Steps     StepToggles       `mapstructure:"steps" json:"steps"`
	Auto      AutoSettings      `mapstructure:"auto" json:"auto"`
	Loop      LoopSettings      `mapstructure:"loop" json:"loop"`
	Prompts   PromptSettings    `mapstructure:"prompts" json:"prompts"`
	Tags      workflow.TagNames `mapstructure:"tags" json:"tags"`
	Cleanup   CleanupSettings   `mapstructure:"cleanup" json:"cleanup"`
}

// Defaults returns the settings in effect before any override is stored.
func Defaults() *Settings {
	return &Settings{
		LLM: LLMSettings{
			Large:  ModelSettings{Provider: "ollama", URL: "http://localhost:11434"},
			Small:  ModelSettings{Provider: "ollama", URL: "http://localhost:11434"},
			Vision: ModelSettings{Provider: "gemini"},
		},
		Vector: VectorSettings{
			Provider:   "chromem",
			Collection: "scriba-documents",
			Path:       "scriba-vectors",
		},
		Embedding: EmbeddingSettings{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			URL:        "http://localhost:11434",
			Dimensions: 768,
		},
		Steps: StepToggles{
			OCR:           true,
			Summary:       false,
			Title:         true,
			Correspondent: true,
			DocumentType:  true,
			Tags:          true,
			CustomFields:  true,
		},
		Auto:    AutoSettings{Enabled: false, IntervalMinutes: 5},
		Loop:    LoopSettings{MaxRetries: 3, ToolBudget: 5},
		Prompts: PromptSettings{Language: "en"},
		Tags:    workflow.DefaultTagNames(),
		Cleanup: CleanupSettings{LogRetentionDays: 30},
	}
}

// StepEnabled reports whether a pipeline step is switched on.
func (s *Settings) StepEnabled(step workflow.Step) bool {
	switch step {
	case workflow.StepOCR:
		return s.Steps.OCR
	case workflow.StepSummary:
		return s.Steps.Summary
	case workflow.StepTitle:
		return s.Steps.Title
	case workflow.StepCorrespondent:
		return s.Steps.Correspondent
	case workflow.StepDocumentType:
		return s.Steps.DocumentType
	case workflow.StepTags:
		return s.Steps.Tags
	case workflow.StepCustomFields:
		return s.Steps.CustomFields
	default:
		return false
	}
}

var validProviders = map[string]map[string]bool{
	"llm":       {"": true, "ollama": true, "openai": true, "gemini": true},
	"vector":    {"chromem": true, "qdrant": true, "pinecone": true},
	"embedding": {"": true, "ollama": true, "openai": true},
}

// Validate rejects settings combinations the core cannot run with.
func (s *Settings) Validate() error {
	for role, m := range map[string]ModelSettings{
		"large": s.LLM.Large, "small": s.LLM.Small,
		"vision": s.LLM.Vision, "translation": s.LLM.Translation,
	} {
		if !validProviders["llm"][m.Provider] {
			return fmt.Errorf("llm.%s.provider: unknown provider %q", role, m.Provider)
		}
	}
	if !validProviders["vector"][s.Vector.Provider] {
		return fmt.Errorf("vector.provider: unknown provider %q", s.Vector.Provider)
	}
	if !validProviders["embedding"][s.Embedding.Provider] {
		return fmt.Errorf("embedding.provider: unknown provider %q", s.Embedding.Provider)
	}
	if s.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if s.Auto.IntervalMinutes < 1 {
		return fmt.Errorf("auto.interval_minutes must be at least 1")
	}
	if s.Loop.MaxRetries < 1 {
		return fmt.Errorf("loop.max_retries must be at least 1")
	}
	if s.Loop.ToolBudget < 1 {
		return fmt.Errorf("loop.tool_budget must be at least 1")
	}
	if strings.TrimSpace(s.Prompts.Language) == "" {
		return fmt.Errorf("prompts.language must not be empty")
	}
	if !s.Tags.Validate() {
		return fmt.Errorf("tags: the workflow tag names must be non-empty and distinct")
	}
	if s.Cleanup.LogRetentionDays < 0 {
		return fmt.Errorf("cleanup.log_retention_days must not be negative")
	}
	if s.Cleanup.Schedule != "" {
		if _, err := cron.ParseStandard(s.Cleanup.Schedule); err != nil {
			return fmt.Errorf("cleanup.schedule: %w", err)
		}
	}
	return nil
}

// Flatten renders settings as the dotted key/value map stored in the
// database and served by the settings API.
func Flatten(s *Settings) (map[string]string, error) {
	var nested map[string]any
	if err := mapstructure.Decode(s, &nested); err != nil {
		return nil, fmt.Errorf("failed to flatten settings: %w", err)
	}

	flat := make(map[string]string)
	flattenInto("", nested, flat)
	return flat, nil
}

func flattenInto(prefix string, node map[string]any, out map[string]string) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			flattenInto(full, child, out)
			continue
		}
		out[full] = fmt.Sprintf("%v", value)
	}
}

// expandKeys turns the stored dotted keys back into the nested map shape
// mapstructure decodes from.
func expandKeys(flat map[string]string) map[string]any {
	root := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return root
}

func decodeInto(input map[string]any, target *Settings) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode settings: %w", err)
	}
	return nil
}
