// Package manifest implements a loader for plugins declared by manifest files.
//
// A manifest describes one opaque processing node: identity, channel layout and a
// flat set of numeric parameters. Two encodings are accepted:
//   - YAML, files ending in .fx.yaml or .fx.yml
//   - HCL, files ending in .fx.hcl, with a single `plugin "<name>" { ... }` block
//
// The init_delay and fail fields let a manifest stand in for a slow or broken
// plugin binary, which is how the host's probing is exercised end to end.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shaban/fxhost/plugins"
)

// Manifest is the decoded form shared by both encodings.
type Manifest struct {
	Name       string
	Vendor     string
	Version    string
	ID         string
	Category   string
	Inputs     int
	Outputs    int
	Parameters map[string]float64
	// InitDelay is slept inside Instantiate. A negative value blocks forever.
	InitDelay time.Duration
	// Fail, when set, makes Instantiate return an error with this text.
	Fail string
}

var (
	// ErrUnsupportedFile is returned for files that carry no manifest suffix.
	ErrUnsupportedFile = errors.New("manifest: unsupported file type")
	// ErrInvalid is wrapped by validation failures.
	ErrInvalid = errors.New("manifest: invalid")
)

// IsManifestFile reports whether path carries a manifest suffix.
func IsManifestFile(path string) bool {
	return encodingOf(path) != ""
}

func encodingOf(path string) string {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, ".fx.yaml"), strings.HasSuffix(base, ".fx.yml"):
		return "yaml"
	case strings.HasSuffix(base, ".fx.hcl"):
		return "hcl"
	default:
		return ""
	}
}

// ReadFile decodes the manifest at path.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m *Manifest
	switch encodingOf(path) {
	case "yaml":
		m, err = decodeYAML(data)
	case "hcl":
		m, err = decodeHCL(path, data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if m.Inputs < 0 || m.Outputs < 0 {
		return fmt.Errorf("%w: negative channel count", ErrInvalid)
	}
	return nil
}

// Descriptor converts the manifest found at path into a plugin descriptor.
func (m *Manifest) Descriptor(path string) plugins.Descriptor {
	return plugins.Descriptor{
		Format:           plugins.FormatManifest,
		FileOrIdentifier: path,
		Name:             m.Name,
		Vendor:           m.Vendor,
		Version:          m.Version,
		UniqueID:         m.ID,
		Category:         m.Category,
		NumInputs:        m.Inputs,
		NumOutputs:       m.Outputs,
	}
}

func parseDelay(s string) (time.Duration, error) {
	switch strings.TrimSpace(s) {
	case "":
		return 0, nil
	case "forever":
		return -1, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: init_delay: %v", ErrInvalid, err)
	}
	return d, nil
}
