// Package recorder writes a run's prompts, outputs and artifacts under its output directory.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/metalagman/bendover/internal/run"
)

const (
	promptsFile = "prompts.json"
	outputsFile = "outputs.json"
)

type promptEntry struct {
	Phase    string        `json:"phase"`
	Messages []run.Message `json:"messages"`
}

// File is a run.Recorder backed by a directory.
type File struct {
	dir     string
	capture bool

	mu        sync.Mutex
	prompts   []promptEntry
	outputs   map[string]string
	finalized bool
}

// New creates dir and returns a recorder. Prompts are kept only when capture is set.
func New(dir string, capture bool) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &File{dir: dir, capture: capture, outputs: make(map[string]string)}, nil
}

// Dir returns the output directory.
func (f *File) Dir() string {
	return f.dir
}

func (f *File) RecordPrompt(phase string, messages []run.Message) error {
	if !f.capture {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, promptEntry{Phase: phase, Messages: append([]run.Message(nil), messages...)})
	return nil
}

func (f *File) RecordOutput(phase, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[phase] = text
	return nil
}

// RecordArtifact writes name directly under the output directory.
func (f *File) RecordArtifact(name, content string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	if err := os.WriteFile(filepath.Join(f.dir, name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// Finalize flushes outputs.json and, with capture on, prompts.json. Only the first call writes.
func (f *File) Finalize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalized {
		return nil
	}
	f.finalized = true
	if f.capture {
		if err := writeJSON(filepath.Join(f.dir, promptsFile), f.prompts); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(f.dir, outputsFile), f.outputs)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
