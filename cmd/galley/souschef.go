package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/souschef"
	"github.com/galleyhq/galley/internal/workflow"
)

var sousChefCmd = &cobra.Command{
	Use:   "souschef",
	Short: "Manage sous chef definitions",
}

var sousChefValidateCmd = &cobra.Command{
	Use:   "validate <file-or-dir>...",
	Short: "Validate sous chef YAML definitions without touching the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := workflow.NewRegistry()
		workflow.RegisterBuiltins(reg)

		failed := 0
		for _, path := range args {
			chefs, err := loadPath(path, reg)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s\n  %v\n", path, err)
				failed++
				continue
			}
			for _, sc := range chefs {
				fmt.Fprintf(cmd.OutOrStdout(), "OK   %s (%s)\n", sc.Slug, sc.Runs)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d definition(s) failed validation", failed)
		}
		return nil
	},
}

var sousChefLoadCmd = &cobra.Command{
	Use:   "load <file-or-dir>...",
	Short: "Validate definitions and upsert them into the database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		for _, path := range args {
			chefs, err := loadPath(path, a.registry)
			if err != nil {
				return err
			}
			for _, sc := range chefs {
				if err := a.db.UpsertSousChef(ctx, sc); err != nil {
					return fmt.Errorf("upsert %s: %w", sc.Slug, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", sc.Slug)
			}
		}
		return nil
	},
}

var sousChefListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sous chefs registered in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		chefs, err := a.db.ListSousChefs(ctx)
		if err != nil {
			return err
		}
		for _, sc := range chefs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", sc.Slug, sc.Creates, sc.Runs)
		}
		return nil
	},
}

func init() {
	sousChefCmd.AddCommand(sousChefValidateCmd, sousChefLoadCmd, sousChefListCmd)
	rootCmd.AddCommand(sousChefCmd)
}

// loadPath loads one YAML file or every definition in a directory.
func loadPath(path string, reg *workflow.Registry) ([]*model.SousChef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return souschef.LoadDir(path, reg)
	}
	sc, err := souschef.LoadFile(path, reg)
	if err != nil {
		return nil, err
	}
	return []*model.SousChef{sc}, nil
}
