package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/familyfinance/cmd/api"
)

func newSchemasCommand() *cobra.Command {
	schemasCmd := &cobra.Command{
		Use:   "schemas",
		Short: "Manage parser schemas",
	}
	schemasCmd.AddCommand(
		newSchemasListCommand(),
		newSchemasImportCommand(),
		newSchemasExportCommand(),
		newSchemasToggleCommand("activate", "Enable a schema for detection", true),
		newSchemasToggleCommand("deactivate", "Disable a schema without deleting it", false),
		newSchemasDeleteCommand(),
		newSchemasInferCommand(),
	)
	return schemasCmd
}

func newSchemasListCommand() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parser schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				schemas, err := deps.SchemaService.List(ctx, activeOnly)
				if err != nil {
					return err
				}
				printSchemaTable(cmd.OutOrStdout(), schemas)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active schemas")
	return cmd
}

func newSchemasImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update schemas from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read schema file: %w", err)
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				result, err := deps.SchemaService.ImportYAML(ctx, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d created, %d updated.\n", result.Created, result.Updated)
				return nil
			})
		},
	}
}

func newSchemasExportCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [name...]",
		Short: "Write schemas as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				data, err := deps.SchemaService.ExportYAML(ctx, args...)
				if err != nil {
					return err
				}
				if output == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newSchemasToggleCommand(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id-or-name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				s, err := deps.SchemaService.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := deps.SchemaService.SetActive(ctx, s.ID, active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema %s %sd.\n", s.Name, use)
				return nil
			})
		},
	}
}

func newSchemasDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				s, err := deps.SchemaService.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := deps.SchemaService.Delete(ctx, s.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema %s deleted.\n", s.Name)
				return nil
			})
		},
	}
}

func newSchemasInferCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "infer <file>",
		Short: "Infer and store a schema for a sample file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			return withDeps(cmd, api.ModeCLI, func(ctx context.Context, deps *api.Dependencies) error {
				s, err := deps.SchemaInferrer.Infer(ctx, filepath.Base(args[0]), content)
				if err != nil {
					return err
				}
				data, err := deps.SchemaService.ExportYAML(ctx, s.Name)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}
