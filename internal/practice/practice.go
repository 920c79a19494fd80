// Package practice loads practice bundles from disk.
//
// A bundle lives at <root>/bundles/<id>/ and holds practices/*.md files with
// optional YAML frontmatter and an optional meta.json. <root>/active.json names
// the active bundle. Without it, <root>/practices is used as an anonymous bundle.
package practice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Practice is a named guideline injected into generation prompts.
type Practice struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	Area     string `json:"area,omitempty"`
	Content  string `json:"content"`
	FileName string `json:"file_name"`
}

// Bundle is a set of practices loaded from one directory.
type Bundle struct {
	ID        string
	Dir       string
	Practices []Practice
	Meta      map[string]any
}

type frontmatter struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Area string `yaml:"area"`
}

var fence = []byte("---\n")

// Parse splits optional frontmatter from a practice file. The name falls back to the file stem.
func Parse(fileName string, data []byte) (Practice, error) {
	p := Practice{
		FileName: fileName,
		Name:     strings.TrimSuffix(fileName, filepath.Ext(fileName)),
	}
	body := data
	if bytes.HasPrefix(data, fence) {
		if rest := data[len(fence):]; bytes.Contains(rest, fence) {
			idx := bytes.Index(rest, fence)
			var fm frontmatter
			if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
				return Practice{}, fmt.Errorf("parse frontmatter of %s: %w", fileName, err)
			}
			if name := strings.TrimSpace(fm.Name); name != "" {
				p.Name = name
			}
			p.Role = strings.TrimSpace(fm.Role)
			p.Area = strings.TrimSpace(fm.Area)
			body = rest[idx+len(fence):]
		}
	}
	p.Content = strings.TrimSpace(string(body))
	return p, nil
}

// LoadBundle reads practices/*.md and meta.json from dir.
func LoadBundle(dir string) (Bundle, error) {
	practicesDir := filepath.Join(dir, "practices")
	entries, err := os.ReadDir(practicesDir)
	if err != nil {
		return Bundle{}, fmt.Errorf("read practices dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	b := Bundle{ID: filepath.Base(dir), Dir: dir}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(practicesDir, name))
		if err != nil {
			return Bundle{}, fmt.Errorf("read practice %s: %w", name, err)
		}
		p, err := Parse(name, data)
		if err != nil {
			return Bundle{}, err
		}
		b.Practices = append(b.Practices, p)
	}

	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		if err := json.Unmarshal(data, &b.Meta); err != nil {
			log.Warn().Err(err).Str("bundle", b.ID).Msg("ignoring invalid meta.json")
			b.Meta = nil
		}
	}
	return b, nil
}

// ReadActiveBundleID reads bundleId (or bundle_id) from an active.json file.
func ReadActiveBundleID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var active struct {
		BundleID      string `json:"bundleId"`
		BundleIDSnake string `json:"bundle_id"`
	}
	if err := json.Unmarshal(data, &active); err != nil {
		return "", fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	id := active.BundleID
	if id == "" {
		id = active.BundleIDSnake
	}
	if id == "" {
		return "", fmt.Errorf("%s is missing bundleId", path)
	}
	return id, nil
}

// Select keeps practices for role (or role-less ones) and, when names is non-empty,
// only the named ones. Names compare case-insensitively; the first of a duplicate wins.
func Select(practices []Practice, role string, names []string) []Practice {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(strings.TrimSpace(n))] = true
	}
	seen := make(map[string]bool)
	var out []Practice
	for _, p := range practices {
		key := strings.ToLower(p.Name)
		if seen[key] {
			continue
		}
		if role != "" && p.Role != "" && !strings.EqualFold(p.Role, role) {
			continue
		}
		if len(want) > 0 && !want[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// FileSource loads the selected practices of the active bundle under Root.
type FileSource struct {
	Root string
	// BundleID overrides active.json when set.
	BundleID string
	Role     string
	Names    []string
}

// ResolveBundle returns the bundle the source would load from.
func (s *FileSource) ResolveBundle() (Bundle, error) {
	id := s.BundleID
	if id == "" {
		active, err := ReadActiveBundleID(filepath.Join(s.Root, "active.json"))
		switch {
		case err == nil:
			id = active
		case errors.Is(err, os.ErrNotExist):
			if _, statErr := os.Stat(filepath.Join(s.Root, "practices")); statErr != nil {
				return Bundle{}, nil
			}
			b, err := LoadBundle(s.Root)
			if err != nil {
				return Bundle{}, err
			}
			b.ID = ""
			return b, nil
		default:
			return Bundle{}, err
		}
	}
	b, err := LoadBundle(filepath.Join(s.Root, "bundles", id))
	if err != nil {
		return Bundle{}, fmt.Errorf("load bundle %s: %w", id, err)
	}
	return b, nil
}

// Load returns the selected practices.
func (s *FileSource) Load(ctx context.Context) ([]Practice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := s.ResolveBundle()
	if err != nil {
		return nil, err
	}
	selected := Select(b.Practices, s.Role, s.Names)
	log.Debug().Str("bundle", b.ID).Int("loaded", len(b.Practices)).Int("selected", len(selected)).Msg("practices loaded")
	return selected, nil
}
