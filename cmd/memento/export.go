package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foundrylabs/memento/internal/codec"
)

var (
	exportContext string
	exportFormat  string
	exportOutput  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "export a context's entities and relations to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, resil, err := buildFacade()
		if err != nil {
			return err
		}
		defer resil.Shutdown()

		ctx, err := reg.Get(exportContext)
		if err != nil {
			return err
		}

		entities, relations, err := ctx.Store.ReadGraph(0, 0)
		if err != nil {
			return err
		}

		src := codec.SourceContext{
			Name:        ctx.Meta.Name,
			Entities:    entities,
			Relations:   relations,
			Patterns:    ctx.Meta.Patterns,
			EntityTypes: ctx.Meta.EntityTypes,
			Description: ctx.Meta.Description,
		}
		opts := codec.Options{IncludeMetadata: true, Format: codec.OutputFormat(exportFormat)}
		exp := codec.BuildExport([]codec.SourceContext{src}, opts)

		data, err := codec.Encode(exp, time.Now(), opts)
		if err != nil {
			return err
		}

		if exportOutput == "" || exportOutput == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(exportOutput, data, 0o644)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportContext, "context", "default", "context to export")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json, jsonl, compressed")
	exportCmd.Flags().StringVar(&exportOutput, "output", "-", "output file path, or - for stdout")
	rootCmd.AddCommand(exportCmd)
}
