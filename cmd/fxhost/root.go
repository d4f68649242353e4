package main

import (
	"context"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/internal/config"
)

// globalOptions holds the persistent flags. newRootCmd resets them.
type globalOptions struct {
	cfgFile  string
	logLevel string
	dataDir  string
	store    string
}

var (
	opts      globalOptions
	cfg       config.Config
	cfgUsed   string
	cfgErr    error
	envLoaded bool
	// hostOpts is appended to every host built by a command; tests inject loaders here.
	hostOpts []host.Option
)

func init() {
	cobra.OnInitialize(initConfig)
}

func newRootCmd() *cobra.Command {
	opts = globalOptions{}
	root := &cobra.Command{
		Use:           "fxhost",
		Short:         "Audio plugin host core",
		Long:          `Scan for audio plugins, keep a blacklist of the ones that crash or hang, and manage an ordered effect chain.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "",
		"config file (default: ~/.config/fxhost/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "",
		"directory holding the settings store")
	root.PersistentFlags().StringVar(&opts.store, "store", "",
		"settings store: sqlite, file or memory")

	root.AddCommand(
		newScanCmd(),
		newCatalogCmd(),
		newChainCmd(),
		newBlacklistCmd(),
		newPathsCmd(),
		newServeCmd(),
		newConfigCmd(),
	)
	return root
}

func initConfig() {
	envLoaded = godotenv.Load() == nil

	cfg, cfgUsed, cfgErr = config.Load(opts.cfgFile)
	if cfgErr != nil {
		return
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.store != "" {
		cfg.Store.Driver = opts.store
	}
	cfgErr = cfg.Validate()
}

// openHost builds the host from the loaded configuration.
func openHost(ctx context.Context, extra ...host.Option) (*host.Host, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("loading config: %w", cfgErr)
	}
	h, err := host.New(ctx, cfg, append(append([]host.Option(nil), hostOpts...), extra...)...)
	if err != nil {
		return nil, err
	}
	if !envLoaded {
		h.Logger().Debug("No .env file found, using environment variables")
	}
	if cfgUsed != "" {
		h.Logger().Debug("Config loaded from " + cfgUsed)
	}
	return h, nil
}

// withHost opens the host, runs fn and closes the host, keeping fn's error first.
func withHost(cmd *cobra.Command, fn func(h *host.Host, out io.Writer) error, extra ...host.Option) error {
	h, err := openHost(cmd.Context(), extra...)
	if err != nil {
		return err
	}
	err = fn(h, cmd.OutOrStdout())
	if closeErr := h.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
