package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/scribadev/scriba/pkg/workflow"
)

// ProcessCmd runs one pipeline step against one document and prints
// the outcome as JSON.
type ProcessCmd struct {
	DocID int    `arg:"" help:"DMS document id."`
	Step  string `help:"Pipeline step to run (ocr, summary, title, correspondent, document_type, tags, custom_fields). Empty derives the next step from the document's workflow tag."`
}

func (c *ProcessCmd) Run(cli *CLI) error {
	step := workflow.Step(c.Step)
	if step != "" && !workflow.ValidStep(step) {
		return fmt.Errorf("unknown step %q", c.Step)
	}

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

	out, err := a.pipeline.ProcessDocument(ctx, c.DocID, step)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
