package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
)

const errorListLimit = 20

func newJobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair import jobs",
	}
	jobsCmd.AddCommand(
		newJobsListCommand(),
		newJobsShowCommand(),
		newJobsErrorsCommand(),
		newJobsWatchCommand(),
		newJobsForceCompleteCommand(),
		newJobsRetryCategorizeCommand(),
	)
	return jobsCmd
}

func newJobsListCommand() *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent import jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				owner, err := optionalOwner(user, deps.Config)
				if err != nil {
					return err
				}
				jobs, err := deps.ImportService.History(ctx, owner, limit)
				if err != nil {
					return err
				}
				printJobTable(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only jobs of this user")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs")
	return cmd
}

func newJobsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				job, err := deps.ImportService.GetJob(ctx, id)
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}

func newJobsErrorsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List the latest jobs that recorded an error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				jobs, err := deps.ImportService.ListErrors(ctx, limit)
				if err != nil {
					return err
				}
				printErrorTable(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", errorListLimit, "maximum number of jobs")
	return cmd
}

func newJobsWatchCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Print job progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				for job := range deps.ImportService.WatchProgress(ctx, id, interval) {
					printProgress(cmd.OutOrStdout(), &job)
				}
				return ctx.Err()
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval")
	return cmd
}

func newJobsForceCompleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "force-complete <job-id>",
		Short: "Mark a stuck job completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				job, err := deps.ImportService.ForceComplete(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s marked completed.\n", job.ID)
				return nil
			})
		},
	}
}

func newJobsRetryCategorizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-categorize <job-id>",
		Short: "Re-run categorization for a completed or partially failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				job, err := deps.ImportService.RetryCategorize(ctx, id)
				if err != nil {
					return err
				}
				printJob(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
}
