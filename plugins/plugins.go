// Package plugins holds the leaf data of the host: plugin descriptors, the catalog of
// every descriptor a scan has verified, and the blacklist of identities that must never
// be loaded again.
//
// Model:
//   - A Descriptor is an immutable record produced by a format loader's candidate search.
//   - Identity is Format + FileOrIdentifier (see Descriptor.Key) and is stable across rescans.
//   - The Catalog only grows through successful probes; the Blacklist only through explicit
//     decisions.
//
// Public usage:
//   - Catalog.Descriptors() → Descriptors, then filter chains (ByFormat/ByVendor/ByName).
//   - Blacklist.Serialize()/Deserialize() for the persisted delimited form.
package plugins

import (
	"fmt"
	"strings"
)

// Format identifies a plugin binary format. The set is closed.
type Format string

const (
	FormatVST3      Format = "VST3"
	FormatVST       Format = "VST"
	FormatAudioUnit Format = "AudioUnit"
	FormatLV2       Format = "LV2"
	FormatCLAP      Format = "CLAP"
	// FormatManifest describes plugins declared by a manifest file on disk.
	FormatManifest Format = "Manifest"
)

var knownFormats = []Format{FormatVST3, FormatVST, FormatAudioUnit, FormatLV2, FormatCLAP, FormatManifest}

// Formats returns every supported format in a stable order.
func Formats() []Format {
	out := make([]Format, len(knownFormats))
	copy(out, knownFormats)
	return out
}

// ParseFormat matches a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	for _, f := range knownFormats {
		if strings.EqualFold(string(f), s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown plugin format %q", s)
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	for _, k := range knownFormats {
		if k == f {
			return true
		}
	}
	return false
}

func (f Format) String() string { return string(f) }

// Key is the identity of a descriptor, stable across rescans.
type Key string

// NewKey builds the identity key for a format and file or module identifier.
func NewKey(format Format, fileOrIdentifier string) Key {
	return Key(string(format) + ":" + fileOrIdentifier)
}

// Format returns the format part of the key, or "" if the key is malformed.
func (k Key) Format() Format {
	f, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return Format(f)
}

func (k Key) String() string { return string(k) }

// Descriptor is the immutable record of one discovered plugin.
type Descriptor struct {
	Format           Format `json:"format"`
	FileOrIdentifier string `json:"fileOrIdentifier"`
	Name             string `json:"name"`
	Vendor           string `json:"vendor,omitempty"`
	Version          string `json:"version,omitempty"`
	UniqueID         string `json:"uniqueId,omitempty"`
	Category         string `json:"category,omitempty"`
	NumInputs        int    `json:"numInputs"`
	NumOutputs       int    `json:"numOutputs"`
}

// Key returns the identity key: format + file or module identifier.
func (d Descriptor) Key() Key {
	return NewKey(d.Format, d.FileOrIdentifier)
}

// LegacyKey returns the identity used by older chain files (format + name + version).
func (d Descriptor) LegacyKey() string {
	return string(d.Format) + ":" + d.Name + ":" + d.Version
}

// IsEquivalent reports whether d and other describe the same plugin. Two descriptors
// are equivalent when their keys match, or when they share a non-empty unique ID and
// name within the same format (the same plugin installed in two locations).
func (d Descriptor) IsEquivalent(other Descriptor) bool {
	if d.Format != other.Format {
		return false
	}
	if d.Key() == other.Key() {
		return true
	}
	return d.UniqueID != "" && d.UniqueID == other.UniqueID && d.Name == other.Name
}

// ChannelCapable reports whether the descriptor can sit in a signal chain.
func (d Descriptor) ChannelCapable() bool {
	return d.NumInputs > 0 && d.NumOutputs > 0
}

// Validate checks the fields a loader must always fill in.
func (d Descriptor) Validate() error {
	if !d.Format.Valid() {
		return fmt.Errorf("descriptor %q: unknown format %q", d.Name, d.Format)
	}
	if d.FileOrIdentifier == "" {
		return fmt.Errorf("descriptor %q: empty file or identifier", d.Name)
	}
	if d.NumInputs < 0 || d.NumOutputs < 0 {
		return fmt.Errorf("descriptor %q: negative channel count", d.Name)
	}
	return nil
}

func (d Descriptor) String() string {
	if d.Vendor == "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.Format)
	}
	return fmt.Sprintf("%s by %s (%s)", d.Name, d.Vendor, d.Format)
}

// Descriptors is a collection of descriptors with filtering methods.
type Descriptors []Descriptor

// ByFormat returns descriptors of a specific format
func (ds Descriptors) ByFormat(format Format) Descriptors {
	var filtered Descriptors
	for _, d := range ds {
		if d.Format == format {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ByVendor returns descriptors whose vendor contains the pattern (case-insensitive)
func (ds Descriptors) ByVendor(pattern string) Descriptors {
	var filtered Descriptors
	for _, d := range ds {
		if matchesPattern(d.Vendor, pattern) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ByName returns descriptors whose name contains the pattern (case-insensitive)
func (ds Descriptors) ByName(pattern string) Descriptors {
	var filtered Descriptors
	for _, d := range ds {
		if matchesPattern(d.Name, pattern) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ByCategory returns descriptors of a specific category
func (ds Descriptors) ByCategory(category string) Descriptors {
	var filtered Descriptors
	for _, d := range ds {
		if strings.EqualFold(d.Category, category) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ChannelCapable returns the descriptors that can be added to a chain
func (ds Descriptors) ChannelCapable() Descriptors {
	var filtered Descriptors
	for _, d := range ds {
		if d.ChannelCapable() {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// Keys returns the identity keys in collection order.
func (ds Descriptors) Keys() []Key {
	keys := make([]Key, len(ds))
	for i, d := range ds {
		keys[i] = d.Key()
	}
	return keys
}

// Summary returns a one-line description of the collection.
func (ds Descriptors) Summary() string {
	if len(ds) == 0 {
		return "no plugins"
	}
	counts := make(map[Format]int)
	for _, d := range ds {
		counts[d.Format]++
	}
	parts := make([]string, 0, len(counts))
	for _, f := range knownFormats {
		if n := counts[f]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", f, n))
		}
	}
	return fmt.Sprintf("%d plugins [%s]", len(ds), strings.Join(parts, " "))
}

func matchesPattern(s, pattern string) bool {
	if pattern == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))
}
