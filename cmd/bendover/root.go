package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/metalagman/bendover/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const stateDirName = ".bendover"

var defaultConfigPath = filepath.Join(stateDirName, "config.json")

// Execute runs the root command.
func Execute() error {
	root, err := newRootCmd()
	if err != nil {
		return err
	}
	return root.Execute()
}

func newRootCmd() (*cobra.Command, error) {
	var (
		debug   bool
		envFile string
	)
	root := &cobra.Command{
		Use:           "bendover",
		Short:         "bendover drives an agentic edit loop inside a sandboxed worktree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.Init(debug)
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().String("config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets such as OPENAI_API_KEY")
	if err := viper.BindPFlag("config", root.PersistentFlags().Lookup("config")); err != nil {
		return nil, fmt.Errorf("bind config flag: %w", err)
	}

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(validateCmd())
	return root, nil
}
