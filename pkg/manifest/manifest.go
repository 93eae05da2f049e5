// Package manifest defines the on-disk package manifest format and its
// in-memory representation. A manifest declares a package's identity, the
// versions of other packages it depends on, the components and systems it
// contributes, and an optional native plugin descriptor.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the manifest file looked for inside each package directory.
const FileName = "package.json"

// Manifest describes a package. It is immutable once parsed.
type Manifest struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description"`
	Author        string `json:"author"`
	License       string `json:"license"`
	EngineVersion string `json:"engineVersion"` // constraint, empty means any

	// Dependencies keeps manifest declaration order; the resolver uses it
	// to break ties between independent subtrees. The file format is an
	// object (name -> constraint), so decoding goes through rawManifest;
	// re-encoding produces an ordered array of pairs instead.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	Components []Component `json:"components"`
	Systems    []System    `json:"systems"`
	Plugin     *Plugin     `json:"plugin"`
}

// Dependency is a single declared dependency on another package.
type Dependency struct {
	Name        string `json:"name"`
	Requirement string `json:"requirement"` // constraint expression, empty means any version
}

// Component declares an ECS component contributed by the package.
type Component struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// System declares an ECS system contributed by the package.
type System struct {
	Name     string `json:"name"`
	File     string `json:"file"`
	Priority int    `json:"priority"`
}

// Plugin describes the package's native plugin library, if any.
type Plugin struct {
	Library  string `json:"library"`
	Main     string `json:"main"`
	Autoload bool   `json:"autoload"`
}

// rawManifest mirrors the JSON document before defaults are applied.
type rawManifest struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	Description   string          `json:"description"`
	Author        string          `json:"author"`
	License       string          `json:"license"`
	EngineVersion string          `json:"engineVersion"`
	Dependencies  json.RawMessage `json:"dependencies"`
	Components    []Component     `json:"components"`
	Systems       []System        `json:"systems"`
	Plugin        *rawPlugin      `json:"plugin"`
}

type rawPlugin struct {
	Library  string `json:"library"`
	Main     string `json:"main"`
	Autoload *bool  `json:"autoload"`
}

// Parse decodes a manifest document and applies the permissive defaults:
// version "1.0.0" when absent, empty strings for the descriptive fields,
// priority 0 for systems, autoload true for plugins.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	m := &Manifest{
		Name:          raw.Name,
		Version:       raw.Version,
		Description:   raw.Description,
		Author:        raw.Author,
		License:       raw.License,
		EngineVersion: raw.EngineVersion,
		Components:    raw.Components,
		Systems:       raw.Systems,
	}

	if m.Version == "" {
		m.Version = "1.0.0"
	}

	if len(raw.Dependencies) > 0 {
		deps, err := parseDependencies(raw.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse manifest dependencies: %w", err)
		}
		m.Dependencies = deps
	}

	if raw.Plugin != nil {
		autoload := true
		if raw.Plugin.Autoload != nil {
			autoload = *raw.Plugin.Autoload
		}
		m.Plugin = &Plugin{
			Library:  raw.Plugin.Library,
			Main:     raw.Plugin.Main,
			Autoload: autoload,
		}
	}

	return m, nil
}

// parseDependencies walks the dependencies object with a token decoder so
// the declaration order of keys is preserved; encoding/json maps would
// randomize it.
func parseDependencies(raw json.RawMessage) ([]Dependency, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("dependencies must be an object, got %v", tok)
	}

	var deps []Dependency
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected dependency key %v", keyTok)
		}

		var requirement string
		if err := dec.Decode(&requirement); err != nil {
			return nil, fmt.Errorf("dependency %q: constraint must be a string: %w", name, err)
		}
		deps = append(deps, Dependency{Name: name, Requirement: requirement})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return deps, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// LoadFromDir loads the manifest file from a package directory.
func LoadFromDir(dir string) (*Manifest, error) {
	return Load(filepath.Join(dir, FileName))
}

// Exists reports whether dir contains a manifest file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && !info.IsDir()
}

// ValidationError describes a single manifest validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate performs structural validation on a parsed manifest.
func Validate(m *Manifest) []ValidationError {
	var errors []ValidationError

	if m.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "name",
			Message: "package name is required",
		})
	}

	for i, dep := range m.Dependencies {
		if dep.Name == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("dependencies[%d]", i),
				Message: "dependency name must not be empty",
			})
		}
	}

	if m.Plugin != nil && m.Plugin.Library == "" {
		errors = append(errors, ValidationError{
			Field:   "plugin.library",
			Message: "plugin library file is required",
		})
	}

	return errors
}
