package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/galleyhq/galley/internal/model"
)

var (
	dispatchQueue  string
	dispatchKwargs string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <recipe-id>",
	Short: "Dispatch a recipe onto the job queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipeID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid recipe id %q: %w", args[0], err)
		}

		var kwargs map[string]any
		if dispatchKwargs != "" {
			if err := json.Unmarshal([]byte(dispatchKwargs), &kwargs); err != nil {
				return fmt.Errorf("invalid --kwargs: %w", err)
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		jobID, err := a.chef.Cook(ctx, recipeID, kwargs, dispatchQueue)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued job %s on %s\n", jobID, dispatchQueue)
		return nil
	},
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchQueue, "queue", "q", model.QueueDefault, "Target queue")
	dispatchCmd.Flags().StringVar(&dispatchKwargs, "kwargs", "", "JSON object of runtime kwargs for the workflow")
	rootCmd.AddCommand(dispatchCmd)
}
