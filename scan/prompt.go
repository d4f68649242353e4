package scan

import (
	"context"

	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/probe"
)

// Prompt asks whether a plugin that failed its probe should be blacklisted.
type Prompt struct {
	ScanID     string
	Descriptor plugins.Descriptor
	Outcome    probe.Outcome
}

// Prompter answers blacklist prompts. Ask may block for as long as a user takes to
// decide; the orchestrator calls it on its own goroutine and never waits for it.
// Returning false leaves the plugin scannable on the next run.
type Prompter interface {
	Ask(ctx context.Context, p Prompt) bool
}

// PrompterFunc adapts a function into a Prompter.
type PrompterFunc func(ctx context.Context, p Prompt) bool

func (f PrompterFunc) Ask(ctx context.Context, p Prompt) bool { return f(ctx, p) }

// Decline never blacklists.
var Decline Prompter = PrompterFunc(func(context.Context, Prompt) bool { return false })

// Accept always blacklists.
var Accept Prompter = PrompterFunc(func(context.Context, Prompt) bool { return true })
