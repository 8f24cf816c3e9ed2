package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/scribadev/scriba/pkg/auth"
	"github.com/scribadev/scriba/pkg/config"
	"github.com/scribadev/scriba/pkg/observability"
	"github.com/scribadev/scriba/pkg/server"
)

// ServeCmd starts the control surface and the auto-processing loop.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			slog.Warn("Observability shutdown failed", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	validator, err := auth.FromConfig(ctx, authFromConfig(cfg.Server.Auth))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), server.Deps{
		Pipeline:  a.pipeline,
		Scheduler: a.scheduler,
		Reviews:   a.reviews,
		Bootstrap: a.bootstrap,
		Settings:  a.settings,
		Store:     a.store,
		DMS:       a.dms,
		Log:       a.log,
		Prompts:   a.prompts,
		Auth:      validator,
	})

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()

	if err := a.cleaner.Start(ctx); err != nil {
		slog.Warn("Cleanup schedule not armed", "error", err)
	}
	defer a.cleaner.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	slog.Info("scriba is up", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	return g.Wait()
}

// authFromConfig maps the file config's auth section onto the
// validator config.
func authFromConfig(cfg config.AuthConfig) auth.Config {
	mode := auth.ModeDisabled
	switch cfg.Mode {
	case config.AuthModeToken:
		mode = auth.ModeStatic
	case config.AuthModeJWT:
		mode = auth.ModeJWT
	}
	return auth.Config{
		Mode:     mode,
		Token:    cfg.Token,
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
}
