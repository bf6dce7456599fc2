package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foundrylabs/memento/internal/codec"
)

var (
	importContext  string
	importFormat   string
	importInput    string
	importMode     string
	importConflict string
	importDryRun   bool
	importValidate bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "import entities and relations into a context from a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, reg, resil, err := buildFacade()
		if err != nil {
			return err
		}
		defer resil.Shutdown()

		ctx, err := reg.Get(importContext)
		if err != nil {
			return err
		}

		var data []byte
		if importInput == "" || importInput == "-" {
			data, err = readAll(os.Stdin)
		} else {
			data, err = os.ReadFile(importInput)
		}
		if err != nil {
			return fmt.Errorf("reading import payload: %w", err)
		}

		exp, err := codec.Decode(data, codec.OutputFormat(importFormat))
		if err != nil {
			return err
		}

		opts := codec.ImportOptions{
			Mode:                 codec.Mode(importMode),
			Conflict:             codec.ConflictResolution(importConflict),
			DryRun:               importDryRun,
			ValidateBeforeImport: importValidate,
		}
		if opts.ValidateBeforeImport {
			if err := codec.Validate(exp); err != nil {
				return err
			}
		}

		existing, err := codec.ExistingByNormalizedName(ctx.Store)
		if err != nil {
			return err
		}

		ctxExport, ok := exp.Contexts[ctx.Meta.Name]
		if !ok {
			return fmt.Errorf("export has no context named %q", ctx.Meta.Name)
		}

		plan := codec.BuildPlan(ctxExport, existing, opts)
		summary, err := codec.ApplyPlan(ctx.Store, plan, opts)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "imported %d entities (%d updated, %d skipped), %d relations (%d skipped)\n",
			summary.EntitiesImported, summary.EntitiesUpdated, summary.EntitiesSkipped,
			summary.RelationsImported, summary.RelationsSkipped)
		for _, w := range summary.Warnings {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importContext, "context", "default", "context to import into")
	importCmd.Flags().StringVar(&importFormat, "format", "json", "input format: json, jsonl, compressed")
	importCmd.Flags().StringVar(&importInput, "input", "-", "input file path, or - for stdin")
	importCmd.Flags().StringVar(&importMode, "mode", "merge", "merge, replace, update, or append")
	importCmd.Flags().StringVar(&importConflict, "conflict", "skip", "skip, overwrite, or rename")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "plan the import without writing")
	importCmd.Flags().BoolVar(&importValidate, "validate", false, "validate the export's checksum before importing")
	rootCmd.AddCommand(importCmd)
}
