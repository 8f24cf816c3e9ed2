// Command scriba runs the document-processing core: an HTTP control
// surface plus the auto-processing scheduler, or one-shot pipeline and
// schema-cleanup runs from the command line.
//
// Usage:
//
//	scriba serve --config scriba.yaml
//	scriba process 17 --step title
//	scriba bootstrap --scope correspondents
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/scribadev/scriba/pkg/config"
	"github.com/scribadev/scriba/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Serve     ServeCmd     `cmd:"" help:"Start the control surface and auto-processing scheduler."`
	Process   ProcessCmd   `cmd:"" help:"Run one pipeline step against one document."`
	Bootstrap BootstrapCmd `cmd:"" help:"Run the schema-cleanup analyzer once and exit."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)."`
}

func main() {
	// Silently absent .env files are fine; only a broken one matters.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("scriba"),
		kong.Description("LLM metadata inference for a document management service."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(kctx.Run(cli))
}

// loadConfig reads the config file and folds CLI logging flags over it.
func (cli *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Logger.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		cfg.Logger.File = cli.LogFile
	}
	if cli.LogFormat != "" {
		cfg.Logger.Format = cli.LogFormat
	}
	return cfg, nil
}

// setupLogging initializes slog per the merged config and returns a
// cleanup for the log file, if any.
func setupLogging(cfg *config.Config) (func(), error) {
	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cfg.Logger.File != "" {
		file, closeFile, err := logger.OpenLogFile(cfg.Logger.File)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output, cleanup = file, closeFile
	}

	logger.Init(level, output, cfg.Logger.Format)
	return cleanup, nil
}
