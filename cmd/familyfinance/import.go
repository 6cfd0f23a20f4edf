package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
)

func newImportCommand() *cobra.Command {
	var (
		user   string
		direct bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a transaction export and categorize it",
		Long: "Runs the full pipeline in the foreground: detection (with schema inference when no parser\n" +
			"matches), import, then categorization. --direct imports in a single transaction and skips\n" +
			"categorization.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			filename := filepath.Base(args[0])

			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				owner, err := ownerFlag(user, deps.Config)
				if err != nil {
					return err
				}

				if direct {
					job, err := deps.ImportService.Run(ctx, owner, filename, content)
					if err != nil {
						return err
					}
					printJob(cmd.OutOrStdout(), job)
					return nil
				}

				job, err := deps.ImportService.Submit(ctx, owner, filename, content)
				if err != nil {
					return err
				}
				job, err = deps.ImportService.GetJob(ctx, job.ID)
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "owner user id (defaults to IMPORT_DEFAULT_USER_ID)")
	cmd.Flags().BoolVar(&direct, "direct", false, "import in one transaction without the background pipeline")
	return cmd
}
