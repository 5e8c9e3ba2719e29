// Elymem inspects the conversation histories Ely has stored, using the same
// configuration file and environment as the bot.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Ely/common/environment"
	"github.com/bdobrica/Ely/common/version"
	"github.com/bdobrica/Ely/internal/ely/app"
	"github.com/bdobrica/Ely/internal/ely/config"
	"github.com/bdobrica/Ely/internal/ely/observability"
	"github.com/bdobrica/Ely/internal/ely/store"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "elymem",
		Short:         "Inspect Ely's stored conversation histories",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (default "+config.DefaultPath+")")

	open := func() (app.BackendStore, io.Closer, error) {
		return openStore(configPath)
	}
	root.AddCommand(newListCmd(open))
	root.AddCommand(newShowCmd(open))
	return root
}

// opener returns the configured store and whatever must be closed after use.
type opener func() (app.BackendStore, io.Closer, error)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(configPath string) (app.BackendStore, io.Closer, error) {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if cfg.Storage.Backend != config.BackendSQLite {
		s, err := app.OpenMemoryStore(cfg.Storage, nil, logger)
		return s, nopCloser{}, err
	}
	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	s, err := app.OpenMemoryStore(cfg.Storage, db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

func main() {
	if _, err := environment.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
