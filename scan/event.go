package scan

import (
	"fmt"

	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

// Kind tags an Event.
type Kind int

const (
	// PathStarted opens the walk of one search path for one format.
	PathStarted Kind = iota
	// PluginTested reports one probe outcome.
	PluginTested
	// ScanComplete ends a scan that ran to completion.
	ScanComplete
	// Cancelled ends a scan that stopped early.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case PathStarted:
		return "path_started"
	case PluginTested:
		return "plugin_tested"
	case ScanComplete:
		return "scan_complete"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is one element of a scan's event stream. Which fields are set depends on Kind:
// PathStarted sets Path and Format, PluginTested sets Descriptor and Outcome, and the
// two terminal kinds set Count to the number of descriptors added to the catalog.
type Event struct {
	Kind       Kind                `json:"kind"`
	ScanID     string              `json:"scanId"`
	Path       string              `json:"path,omitempty"`
	Format     plugins.Format      `json:"format,omitempty"`
	Descriptor *plugins.Descriptor `json:"descriptor,omitempty"`
	Outcome    *probe.Outcome      `json:"outcome,omitempty"`
	Count      int                 `json:"count"`
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == ScanComplete || e.Kind == Cancelled
}

func (e Event) String() string {
	switch e.Kind {
	case PathStarted:
		return fmt.Sprintf("%s %s (%s)", e.Kind, e.Path, e.Format)
	case PluginTested:
		name, outcome := "?", "?"
		if e.Descriptor != nil {
			name = e.Descriptor.Name
		}
		if e.Outcome != nil {
			outcome = e.Outcome.String()
		}
		return fmt.Sprintf("%s %s: %s", e.Kind, name, outcome)
	default:
		return fmt.Sprintf("%s (%d added)", e.Kind, e.Count)
	}
}
