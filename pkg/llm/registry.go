package llm

import (
	"context"
	"fmt"

	"github.com/scribadev/scriba/pkg/settings"
)

// ModelRole is a logical model slot the pipeline draws on. Roles map to
// concrete provider/model pairs through settings.
type ModelRole string

const (
	// ModelLarge does structured analysis and tool use.
	ModelLarge ModelRole = "large"
	// ModelSmall does low-temperature confirmation.
	ModelSmall ModelRole = "small"
	// ModelVision re-extracts text from page images.
	ModelVision ModelRole = "vision"
	// ModelTranslation optionally overrides the summary step. Falls
	// back to the large model when unconfigured.
	ModelTranslation ModelRole = "translation"
)

// New builds a provider from explicit model settings.
func New(cfg settings.ModelSettings, opts ...Option) (Provider, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllama(cfg, opts...), nil
	case "openai":
		return NewOpenAI(cfg, opts...), nil
	case "gemini":
		return NewGemini(cfg, opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// Registry resolves logical model roles to providers. Settings are read
// on every resolution so model changes apply to the next call without a
// restart.
type Registry struct {
	settings *settings.Service
	opts     []Option
}

// NewRegistry wires a registry to the settings service. Options apply
// to every provider it constructs.
func NewRegistry(svc *settings.Service, opts ...Option) *Registry {
	return &Registry{settings: svc, opts: opts}
}

// Provider resolves one role against current settings.
func (r *Registry) Provider(ctx context.Context, role ModelRole) (Provider, error) {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s model: %w", role, err)
	}

	model, err := cfg.LLM.ForRole(string(role))
	if err != nil {
		return nil, err
	}
	if !model.IsConfigured() && role == ModelTranslation {
		model = cfg.LLM.Large
	}
	if !model.IsConfigured() {
		return nil, fmt.Errorf("%s model is not configured", role)
	}
	return New(model, r.opts...)
}
