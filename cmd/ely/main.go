// Ely is a Matrix chat bot that answers !ely and !elyall commands with an
// LLM and remembers each conversation across restarts.
//
// Configuration is read from an optional YAML file (default ely.yaml), then
// from the environment (a .env file in the working directory is loaded
// first), then from flags.
//
// Required settings:
//
//	MATRIX_HOMESERVER     - Matrix homeserver URL
//	MATRIX_USER_ID        - bot's Matrix ID
//	MATRIX_ACCESS_TOKEN   - bot's access token
//	OPENROUTER_API_KEY    - provider key (GOOGLE_API_KEY for gemini,
//	                        OPENAI_API_KEY for openai, or ELY_LLM_API_KEY)
//
// Optional settings:
//
//	ELY_DATA_DIR          - directory for file-backed histories (default: data)
//	ELY_STORAGE_BACKEND   - "file" (default) or "sqlite"
//	ELY_DATABASE_PATH     - SQLite database (default: ely.db)
//	ELY_LLM_PROVIDER      - "openrouter" (default), "openai" or "gemini"
//	ELY_LLM_MODEL         - model name
//	SYSTEM_PROMPT         - system prompt sent before each history
//	MATRIX_ROOMS          - comma-separated rooms to join and answer in
//	ELY_LANG              - reply language: "en" (default) or "zh-cn"
//	ELY_HTTP_ADDR         - health server address (default ":8080")
//	ELYBOT_LOG_LEVEL      - "debug", "info", "warn", "error" (default: "info")
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bdobrica/Ely/common/environment"
	"github.com/bdobrica/Ely/common/version"
	"github.com/bdobrica/Ely/internal/ely/app"
	"github.com/bdobrica/Ely/internal/ely/config"
	"github.com/bdobrica/Ely/internal/ely/observability"
)

// options are the command-line flags.
type options struct {
	configPath  string
	verbose     bool
	port        int
	lang        string
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ely", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default "+config.DefaultPath+")")
	fs.BoolVar(&opts.verbose, "verbose", false, "log at debug level")
	fs.IntVar(&opts.port, "port", 0, "health server port, overrides http.addr")
	fs.StringVar(&opts.lang, "lang", "", "reply language (en, zh-cn)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.port < 0 || opts.port > 65535 {
		return opts, fmt.Errorf("-port must be within [0, 65535], got %d", opts.port)
	}
	return opts, nil
}

// loadConfig applies file, environment and flags in that order.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.port > 0 {
		cfg.HTTP.Addr = ":" + strconv.Itoa(opts.port)
	}
	if opts.lang != "" {
		cfg.Matrix.Language = opts.lang
	}
	return cfg, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("Ely %s\n", version.Info())
		return
	}

	loaded, envErr := environment.LoadDotEnv()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.Setup(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		logger.Warn("could not load .env file", "err", envErr)
	}
	for _, f := range loaded {
		logger.Debug("loaded environment file", "path", f)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Ely exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ely, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer ely.Stop()

	return ely.Run(ctx)
}
