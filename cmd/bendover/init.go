package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/bendover/internal/config"
	"github.com/metalagman/bendover/internal/git"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new bendover project",
		Long:  "Initialize a new bendover project by creating the .bendover directory and installing a default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoRoot, err := os.Getwd()
			if err != nil {
				return err
			}
			if err := initProject(cmd.Context(), repoRoot); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bendover initialized successfully")
			return nil
		},
	}
}

func initProject(ctx context.Context, repoRoot string) error {
	if !git.Available(ctx, repoRoot) {
		return fmt.Errorf("current directory is not a git repository")
	}

	dir := stateDir(repoRoot)
	log.Info().Str("dir", dir).Msg("creating bendover directory")
	for _, sub := range []string{"runs", "locks", "sandboxes", "practices"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}

	configPath := filepath.Join(repoRoot, defaultConfigPath)
	created, err := config.WriteDefault(configPath)
	if err != nil {
		return err
	}
	if created {
		log.Info().Str("path", configPath).Msg("installed default config")
	} else {
		log.Info().Msg("config.json already exists, skipping")
	}
	return nil
}
