package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scribadev/scriba/pkg/agents"
	"github.com/scribadev/scriba/pkg/bootstrap"
	"github.com/scribadev/scriba/pkg/config"
	"github.com/scribadev/scriba/pkg/dms"
	"github.com/scribadev/scriba/pkg/httpclient"
	"github.com/scribadev/scriba/pkg/llm"
	"github.com/scribadev/scriba/pkg/pipeline"
	"github.com/scribadev/scriba/pkg/proclog"
	"github.com/scribadev/scriba/pkg/prompts"
	"github.com/scribadev/scriba/pkg/review"
	"github.com/scribadev/scriba/pkg/scheduler"
	"github.com/scribadev/scriba/pkg/settings"
	"github.com/scribadev/scriba/pkg/store"
	"github.com/scribadev/scriba/pkg/textextract"
	"github.com/scribadev/scriba/pkg/tools"
	"github.com/scribadev/scriba/pkg/vector"
)

// app is the wired processing core shared by serve and the one-shot
// commands. Close tears the pieces down in reverse dependency order.
type app struct {
	cfg *config.Config

	store     *store.Store
	settings  *settings.Service
	dms       *dms.Client
	vector    vector.Store
	log       *proclog.Logger
	prompts   *prompts.Loader
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	reviews   *review.Service
	bootstrap *bootstrap.Analyzer
	cleaner   *bootstrap.Cleaner
}

// buildApp assembles the core from bootstrap config plus the runtime
// settings currently in the store. The DMS client re-reads settings on
// every call, so endpoint and token changes apply without a restart;
// only the vector backend binds at startup (it holds connections and
// local index state).
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, store: st}
	a.settings = settings.NewService(st)
	a.dms = newDMSClient(cfg, a.settings)
	a.log = proclog.New(st)

	a.prompts, err = prompts.NewLoader(cfg.Prompts.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}

	current, err := a.settings.Get(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("read settings: %w", err)
	}
	a.vector = openVectorStore(current)

	registry, err := buildToolRegistry(ctx, cfg, tools.Deps{
		DMS:      a.dms,
		Vector:   a.vector,
		Settings: a.settings,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	agentSet := agents.New(agents.Deps{
		DMS:     a.dms,
		Store:   st,
		Vector:  a.vector,
		Models:  llm.NewRegistry(a.settings),
		Prompts: a.prompts,
		Tools:   registry,
		Extract: textextract.NewRegistry(),
	})

	a.pipeline = pipeline.New(pipeline.Deps{
		DMS:      a.dms,
		Settings: a.settings,
		Agents:   agentSet,
		Log:      a.log,
	})
	a.scheduler = scheduler.New(scheduler.Deps{
		DMS:      a.dms,
		Settings: a.settings,
		Pipeline: a.pipeline,
	})
	a.reviews = review.New(review.Deps{
		DMS:      a.dms,
		Store:    st,
		Settings: a.settings,
	})
	a.bootstrap = bootstrap.New(bootstrap.Deps{DMS: a.dms, Store: st})
	a.cleaner = bootstrap.NewCleaner(a.settings, a.log, st)

	return a, nil
}

func (a *app) Close() {
	if a.prompts != nil {
		_ = a.prompts.Close()
	}
	if a.log != nil {
		_ = a.log.Close()
	}
	if a.vector != nil {
		_ = a.vector.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newDMSClient builds the adapter with a config function that reads
// the live settings for every call. Transport options (CA bundle,
// timeout) come from the file config; URL and token are runtime
// settings.
func newDMSClient(cfg *config.Config, svc *settings.Service) *dms.Client {
	timeout := time.Duration(cfg.DMS.TimeoutSeconds) * time.Second
	configFn := func(ctx context.Context) (dms.Config, error) {
		st, err := svc.Get(ctx)
		if err != nil {
			return dms.Config{}, err
		}
		return dms.Config{BaseURL: st.DMS.URL, Token: st.DMS.Token, Timeout: timeout}, nil
	}

	if cfg.DMS.CACertificate == "" && !cfg.DMS.InsecureSkipVerify {
		return dms.NewClient(configFn)
	}
	hc := httpclient.New(
		httpclient.WithRetryStrategy(httpclient.RateLimitOnlyStrategy),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		httpclient.WithTLSConfig(&httpclient.TLSConfig{
			CACertificate:      cfg.DMS.CACertificate,
			InsecureSkipVerify: cfg.DMS.InsecureSkipVerify,
		}),
	)
	return dms.NewClient(configFn, dms.WithHTTPClient(hc))
}

// openVectorStore builds the configured backend. Failures degrade to
// no similarity context rather than blocking the pipeline.
func openVectorStore(st *settings.Settings) vector.Store {
	embedder, err := vector.NewEmbedder(st.Embedding)
	if err != nil {
		slog.Warn("Similarity search disabled", "error", err)
		return nil
	}
	vs, err := vector.NewStore(st.Vector, embedder)
	if err != nil {
		slog.Warn("Similarity search disabled", "error", err)
		return nil
	}
	return vs
}

// buildToolRegistry registers the fixed document tools plus any
// configured MCP mounts. Mounts connect lazily; listing a down
// server's tools fails here rather than at analysis time.
func buildToolRegistry(ctx context.Context, cfg *config.Config, deps tools.Deps) (*tools.Registry, error) {
	registry, err := tools.NewRegistry(tools.DocumentTools(deps)...)
	if err != nil {
		return nil, fmt.Errorf("register document tools: %w", err)
	}

	for _, mc := range cfg.MCPServers {
		mount, err := tools.NewMount(tools.MountConfig{
			Name:      mc.Name,
			URL:       mc.URL,
			Transport: mc.Transport,
			Filter:    mc.Filter,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp mount %s: %w", mc.Name, err)
		}
		mounted, err := mount.Tools(ctx)
		if err != nil {
			slog.Warn("MCP mount unavailable, skipping", "mount", mc.Name, "error", err)
			continue
		}
		for _, tool := range mounted {
			if err := registry.Register(tool); err != nil {
				return nil, fmt.Errorf("mcp mount %s: %w", mc.Name, err)
			}
		}
		slog.Info("MCP tools mounted", "mount", mc.Name, "tools", len(mounted))
	}
	return registry, nil
}
