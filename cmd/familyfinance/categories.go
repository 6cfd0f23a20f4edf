package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
)

func newRecategorizeCommand() *cobra.Command {
	var user, provider string
	cmd := &cobra.Command{
		Use:   "recategorize",
		Short: "Categorize a user's Uncategorized transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				owner, err := ownerFlag(user, deps.Config)
				if err != nil {
					return err
				}
				summary, err := deps.CategorizationService.RecategorizeUncategorized(ctx, owner, provider)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Categorized %d of %d transactions.\n", summary.Categorized, summary.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner user id (defaults to IMPORT_DEFAULT_USER_ID)")
	cmd.Flags().StringVar(&provider, "provider", "", "AI provider (defaults to AI_PROVIDER)")
	return cmd
}

func newSeedCategoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-categories",
		Short: "Create the default categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				created, err := deps.CategorizationService.SeedCategories(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d categories created.\n", created)
				return nil
			})
		},
	}
}

func newAICommand() *cobra.Command {
	aiCmd := &cobra.Command{
		Use:   "ai",
		Short: "Ask the AI provider about transactions",
	}

	var user, provider string
	var limit int
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about recent transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				owner, err := optionalOwner(user, deps.Config)
				if err != nil {
					return err
				}
				answer, err := deps.CategorizationService.Ask(ctx, owner, strings.Join(args, " "), provider, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}
	ask.Flags().IntVar(&limit, "limit", 100, "number of recent transactions given as context")

	summarize := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize recent spending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				owner, err := optionalOwner(user, deps.Config)
				if err != nil {
					return err
				}
				summary, err := deps.CategorizationService.Summarize(ctx, owner, provider)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), summary)
				return nil
			})
		},
	}

	aiCmd.PersistentFlags().StringVar(&user, "user", "", "restrict to one user")
	aiCmd.PersistentFlags().StringVar(&provider, "provider", "", "AI provider (defaults to AI_PROVIDER)")
	aiCmd.AddCommand(ask, summarize)
	return aiCmd
}
