package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. BENDOVER_GENERATOR_MODEL.
const EnvPrefix = "BENDOVER"

//go:embed default.json
var defaultJSON []byte

// DefaultJSON returns the default config file content.
func DefaultJSON() []byte {
	return bytes.Clone(defaultJSON)
}

// Default returns the built-in configuration.
func Default() Config {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(defaultJSON)); err != nil {
		panic(fmt.Sprintf("config: embedded default: %v", err))
	}
	var cfg Config
	if err := decode(v, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded default: %v", err))
	}
	return cfg
}

// Load reads the JSON config at path, validates it against the schema and
// decodes it over the defaults. Keys present in the file can be overridden
// from the environment.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := decode(v, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the default config to path unless a file already exists.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, defaultJSON, 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper, cfg *Config) error {
	return v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}
