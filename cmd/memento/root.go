package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foundrylabs/memento/internal/aggregator"
	"github.com/foundrylabs/memento/internal/config"
	"github.com/foundrylabs/memento/internal/facade"
	"github.com/foundrylabs/memento/internal/logging"
	"github.com/foundrylabs/memento/internal/registry"
	"github.com/foundrylabs/memento/internal/resilience"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "memento",
	Short: "memento - embedded knowledge-graph memory server",
	Long:  `A local, embedded knowledge-graph memory service: entities with ordered rich observations, directed relations, full-text search, and bulk export/import, served as a JSON-RPC tool surface.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("memento version %s\n", version)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.Flags().Bool("version", false, "print version and exit")
}

// buildFacade wires a Registry, a default context, and a resilience
// Layer into one Facade, reading configuration from the environment
// the way every subcommand below needs it.
func buildFacade() (*facade.Facade, *registry.Registry, *resilience.Layer, error) {
	cfg, err := config.Load(os.Environ())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Init(cfg.LogLevel)

	for _, k := range cfg.Unknown {
		logging.L().Warnw("unrecognized environment variable", "key", k)
	}
	for _, k := range cfg.Deprecated {
		logging.L().Warnw("deprecated environment variable, honoring replacement", "key", k)
	}

	reg := registry.New(cfg)
	if _, err := reg.CreateContext("default", "", nil, nil, "the default context"); err != nil {
		return nil, nil, nil, fmt.Errorf("creating default context: %w", err)
	}

	resil := resilience.New(resilience.Config{})

	f := facade.New(reg, cfg.DisableRateLimiting, aggregator.Config{Mode: aggregator.ZeroDelay}, resil)
	return f, reg, resil, nil
}
