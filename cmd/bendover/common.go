package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/bendover/internal/config"
	"github.com/metalagman/bendover/internal/db"
	"github.com/spf13/viper"
)

func stateDir(repoRoot string) string {
	return filepath.Join(repoRoot, stateDirName)
}

func runsDir(repoRoot string) string {
	return filepath.Join(stateDir(repoRoot), "runs")
}

func sandboxRoot(repoRoot string, cfg config.Config) string {
	if cfg.Sandbox.Root != "" {
		return resolvePath(repoRoot, cfg.Sandbox.Root)
	}
	return filepath.Join(stateDir(repoRoot), "sandboxes")
}

func practicesRoot(repoRoot string, cfg config.Config) string {
	if cfg.Practices.Root != "" {
		return resolvePath(repoRoot, cfg.Practices.Root)
	}
	return stateDir(repoRoot)
}

func resolvePath(repoRoot, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

func openStore(repoRoot string) (*db.Store, func(), error) {
	conn, err := db.Open(filepath.Join(stateDir(repoRoot), "bendover.db"))
	if err != nil {
		return nil, func() {}, err
	}
	return db.NewStore(conn), func() { _ = conn.Close() }, nil
}

func loadConfig(repoRoot string) (config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	path = resolvePath(repoRoot, path)
	if _, err := os.Stat(path); err != nil {
		return config.Config{}, fmt.Errorf("config %s not found (run bendover init): %w", path, err)
	}
	return config.Load(path)
}
