package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gofhir/validationsupport/loader"
)

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import [dir...]",
		Short: "Load CodeSystems and ValueSets into the SQLite store",
		Long: `Import reads the given directories, or the configured sources when none
are given, and writes their CodeSystems and ValueSets to the SQLite database
named by --sqlite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openImportStore(ctx, a.cfg.SQLite.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			var srcs []loader.Source
			if len(args) > 0 {
				for _, dir := range args {
					srcs = append(srcs, loader.NewDirSource(dir))
				}
			} else if srcs, err = sources(ctx, a.cfg, a.logger); err != nil {
				return err
			}
			if len(srcs) == 0 {
				return fmt.Errorf("nothing to import: pass a directory or configure terminology sources")
			}

			total := &loader.LoadStats{}
			for _, src := range srcs {
				stats, err := loader.LoadWithOptions(ctx, src, loader.Options{Logger: a.logger}, db)
				if err != nil {
					return err
				}
				total.Files += stats.Files
				total.CodeSystems += stats.CodeSystems
				total.ValueSets += stats.ValueSets
				total.Errors += stats.Errors
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d code systems and %d value sets from %d files into %s (%d errors)\n",
				total.CodeSystems, total.ValueSets, total.Files, db.Path(), total.Errors)
			return nil
		},
	}
}
