// Package config provides configuration loading and management for bendover.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Generator    GeneratorConfig    `json:"generator"    mapstructure:"generator"`
	Budgets      Budgets            `json:"budgets"      mapstructure:"budgets"`
	Sandbox      SandboxConfig      `json:"sandbox"      mapstructure:"sandbox"`
	Verification VerificationConfig `json:"verification" mapstructure:"verification"`
	Completion   CompletionConfig   `json:"completion"   mapstructure:"completion"`
	Practices    PracticesConfig    `json:"practices"    mapstructure:"practices"`
	Retention    RetentionPolicy    `json:"retention"    mapstructure:"retention"`
}

// GeneratorConfig describes the OpenAI Responses API generator.
type GeneratorConfig struct {
	Model           string        `json:"model"                       mapstructure:"model"`
	BaseURL         string        `json:"base_url,omitempty"          mapstructure:"base_url"`
	APIKey          string        `json:"api_key,omitempty"           mapstructure:"api_key"`
	APIKeyEnv       string        `json:"api_key_env,omitempty"       mapstructure:"api_key_env"`
	Timeout         time.Duration `json:"timeout,omitempty"           mapstructure:"timeout"`
	MaxOutputTokens int64         `json:"max_output_tokens,omitempty" mapstructure:"max_output_tokens"`
}

// Budgets defines run limits.
type Budgets struct {
	MaxSteps        int `json:"max_steps"                   mapstructure:"max_steps"`
	HistoryDepth    int `json:"history_depth,omitempty"     mapstructure:"history_depth"`
	TailLines       int `json:"tail_lines,omitempty"        mapstructure:"tail_lines"`
	MaxPatchKB      int `json:"max_patch_kb,omitempty"      mapstructure:"max_patch_kb"`
	MaxChangedFiles int `json:"max_changed_files,omitempty" mapstructure:"max_changed_files"`
}

// SandboxConfig configures the local worktree sandbox.
type SandboxConfig struct {
	Root           string        `json:"root,omitempty"            mapstructure:"root"`
	Shell          string        `json:"shell,omitempty"           mapstructure:"shell"`
	CommandTimeout time.Duration `json:"command_timeout,omitempty" mapstructure:"command_timeout"`
	KeepWorkspace  bool          `json:"keep_workspace,omitempty"  mapstructure:"keep_workspace"`
}

// VerificationConfig overrides the commands verification steps run.
type VerificationConfig struct {
	BuildCommand string `json:"build_command,omitempty" mapstructure:"build_command"`
	TestCommand  string `json:"test_command,omitempty"  mapstructure:"test_command"`
}

// CompletionConfig selects the completion policy: "trusted" or "gated".
type CompletionConfig struct {
	Policy string `json:"policy" mapstructure:"policy"`
}

// PracticesConfig selects the practice bundle and filters.
type PracticesConfig struct {
	Root   string   `json:"root,omitempty"   mapstructure:"root"`
	Bundle string   `json:"bundle,omitempty" mapstructure:"bundle"`
	Role   string   `json:"role,omitempty"   mapstructure:"role"`
	Names  []string `json:"names,omitempty"  mapstructure:"names"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}
