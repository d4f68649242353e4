package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/scan"
)

func newScanCmd() *cobra.Command {
	var (
		formats []string
		paths   []string
		yes     bool
		no      bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan search paths for plugins and probe each new one",
		Long: `Scan the search paths for plugins that are neither catalogued nor blacklisted,
and probe each one with a timeout. Plugins that fail or hang can be blacklisted.

Examples:
  # Scan every format in the persisted search paths, asking about failures
  fxhost scan

  # Only manifests under one directory, blacklisting every failure
  fxhost scan --format manifest --path ./plugins --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes && no {
				return fmt.Errorf("--yes and --no are mutually exclusive")
			}
			var req scan.Request
			for _, f := range formats {
				pf, err := plugins.ParseFormat(f)
				if err != nil {
					return err
				}
				req.Formats = append(req.Formats, pf)
			}
			req.SearchPaths = paths

			var prompter scan.Prompter
			switch {
			case yes:
				prompter = scan.Accept
			case no:
				prompter = scan.Decline
			default:
				prompter = newStdinPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			return withHost(cmd, func(h *host.Host, out io.Writer) error {
				run, err := h.Scan(cmd.Context(), req)
				if err != nil {
					return err
				}
				for ev := range run.Events() {
					fmt.Fprintln(out, ev)
				}
				<-run.Done()
				h.Scanner().WaitPrompts()
				fmt.Fprintln(out, run.Result())
				fmt.Fprintln(out, h.Catalog().Descriptors().Summary())
				return nil
			}, host.WithPrompter(prompter))
		},
	}
	cmd.Flags().StringSliceVarP(&formats, "format", "f", nil, "formats to scan (repeatable)")
	cmd.Flags().StringSliceVarP(&paths, "path", "p", nil, "search paths (default: persisted paths)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "blacklist every plugin that fails its probe")
	cmd.Flags().BoolVarP(&no, "no", "n", false, "never blacklist")
	return cmd
}

// stdinPrompter asks one question at a time on the terminal.
type stdinPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newStdinPrompter(in io.Reader, out io.Writer) *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(in), out: out}
}

func (p *stdinPrompter) Ask(ctx context.Context, pr scan.Prompt) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fmt.Fprintf(p.out, "%s %s. Blacklist it? [y/N] ", pr.Descriptor, pr.Outcome)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
