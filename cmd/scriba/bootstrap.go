package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scribadev/scriba/pkg/bootstrap"
	"github.com/scribadev/scriba/pkg/store"
)

// BootstrapCmd runs the schema-cleanup analyzer once, waits for it to
// finish and prints the final progress record.
type BootstrapCmd struct {
	Scope string `help:"Categories to analyze: all, correspondents, document_types or tags." default:"all"`
}

func (c *BootstrapCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.bootstrap.Start(bootstrap.Scope(c.Scope)); err != nil {
		return err
	}

	// The analyzer runs detached; poll until it settles or the user
	// interrupts, in which case ask it to wind down.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	done := ctx.Done()
	for {
		select {
		case <-done:
			a.bootstrap.Cancel()
			done = nil
		case <-ticker.C:
		}

		progress, err := a.bootstrap.Status(context.Background())
		if err != nil {
			return err
		}
		if progress.Status != store.JobStatusRunning {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(progress); err != nil {
				return err
			}
			if progress.Status == store.JobStatusError {
				return fmt.Errorf("bootstrap analysis failed: %s", progress.Error)
			}
			return nil
		}
	}
}
