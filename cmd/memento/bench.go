package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundrylabs/memento/internal/aggregator"
	"github.com/foundrylabs/memento/internal/search"
	"github.com/foundrylabs/memento/internal/store"
)

var (
	benchEntities  int
	benchSearches  int
	benchMode      string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "throughput sanity check: write N entities then run M searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, resil, err := buildFacade()
		if err != nil {
			return err
		}
		defer resil.Shutdown()

		ctx, err := reg.Get("default")
		if err != nil {
			return err
		}

		mode := aggregator.ZeroDelay
		if benchMode == "debounced" {
			mode = aggregator.Debounced
		}
		agg := aggregator.New(ctx.Store, aggregator.Config{Mode: mode})

		writeStart := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < benchEntities; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := fmt.Sprintf("bench-entity-%d", i)
				agg.Submit(aggregator.Intent{
					Kind: aggregator.IntentCreateEntities,
					Entities: []store.Entity{{
						Name:       name,
						EntityType: "benchmark",
						Observations: []store.Observation{
							{Type: store.ObservationText, Text: fmt.Sprintf("synthetic observation for %s", name)},
						},
					}},
				})
			}(i)
		}
		wg.Wait()
		writeElapsed := time.Since(writeStart)

		searchStart := time.Now()
		for i := 0; i < benchSearches; i++ {
			_, err := search.Run(ctx, "synthetic", search.Params{Now: time.Now(), Preset: ctx.Preset})
			if err != nil {
				return err
			}
		}
		searchElapsed := time.Since(searchStart)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %d entities in %s (%.0f/s)\n", benchEntities, writeElapsed, float64(benchEntities)/writeElapsed.Seconds())
		fmt.Fprintf(out, "ran %d searches in %s (%.0f/s)\n", benchSearches, searchElapsed, float64(benchSearches)/searchElapsed.Seconds())
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchEntities, "entities", 1000, "number of entities to write")
	benchCmd.Flags().IntVar(&benchSearches, "searches", 100, "number of searches to run afterward")
	benchCmd.Flags().StringVar(&benchMode, "mode", "zero-delay", "aggregator scheduling mode: zero-delay or debounced")
	rootCmd.AddCommand(benchCmd)
}
