package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
	"github.com/FACorreiaa/familyfinance/pkg/config"
)

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "familyfinance",
		Short: "Import and categorize bank and budgeting-app exports",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at LOG_LEVEL instead of warnings only")

	rootCmd.AddCommand(
		newServeCommand(),
		newImportCommand(),
		newJobsCommand(),
		newSchemasCommand(),
		newRecategorizeCommand(),
		newSeedCategoriesCommand(),
		newAICommand(),
	)

	return rootCmd
}

// newLogger builds the process logger. The daemon logs JSON, commands log
// text to stderr so stdout stays clean.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// withDeps loads configuration, wires dependencies and runs fn.
func withDeps(cmd *cobra.Command, mode api.Mode, fn func(ctx context.Context, deps *api.Dependencies) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	format := "text"
	level := cfg.Observability.LogLevel
	if mode == api.ModeDaemon {
		format = cfg.Observability.LogFormat
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		level = "warn"
	}
	logger := newLogger(os.Stderr, level, format)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	deps, err := api.InitDependencies(ctx, cfg, logger, mode)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	return fn(ctx, deps)
}

// ownerFlag resolves --user, falling back to IMPORT_DEFAULT_USER_ID.
func ownerFlag(raw string, cfg *config.Config) (uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
		}
		return id, nil
	}
	if cfg.Import.DefaultUserID != nil {
		return *cfg.Import.DefaultUserID, nil
	}
	return uuid.Nil, fmt.Errorf("--user is required when IMPORT_DEFAULT_USER_ID is not set")
}

// optionalOwner is like ownerFlag but returns nil when neither is set.
func optionalOwner(raw string, cfg *config.Config) (*uuid.UUID, error) {
	if raw == "" && cfg.Import.DefaultUserID == nil {
		return nil, nil
	}
	id, err := ownerFlag(raw, cfg)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q: %w", raw, err)
	}
	return id, nil
}
