package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/reconciler"
)

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Show and edit the active effect chain",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show the chain and its signal path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, func(h *host.Host, out io.Writer) error {
				return printChain(out, h, asJSON)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(
		list,
		actionCmd("add <key>", "Append a catalogued plugin", func(args []string) (reconciler.Action, error) {
			return reconciler.Add(plugins.Key(args[0])), nil
		}),
		actionCmd("remove <index>", "Remove the plugin at index", indexAction(reconciler.Remove)),
		actionCmd("up <index>", "Move the plugin at index one place earlier", indexAction(reconciler.MoveUp)),
		actionCmd("down <index>", "Move the plugin at index one place later", indexAction(reconciler.MoveDown)),
		actionCmd("toggle <index>", "Toggle bypass of the plugin at index", indexAction(reconciler.ToggleBypass)),
		newBypassCmd(),
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every plugin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return dispatch(cmd, reconciler.ClearAll())
			},
		},
	)
	return cmd
}

func newBypassCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "bypass <index> on|off",
		Short:     "Bypass or enable the plugin at index",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			var on bool
			switch args[1] {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
			return dispatch(cmd, reconciler.Bypass(i, on))
		},
	}
}

func actionCmd(use, short string, build func(args []string) (reconciler.Action, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(args)
			if err != nil {
				return err
			}
			return dispatch(cmd, a)
		},
	}
}

func indexAction(fn func(int) reconciler.Action) func([]string) (reconciler.Action, error) {
	return func(args []string) (reconciler.Action, error) {
		i, err := parseIndex(args[0])
		if err != nil {
			return reconciler.Action{}, err
		}
		return fn(i), nil
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

func dispatch(cmd *cobra.Command, a reconciler.Action) error {
	return withHost(cmd, func(h *host.Host, out io.Writer) error {
		if err := h.Dispatch(cmd.Context(), a); err != nil {
			return err
		}
		return printChain(out, h, false)
	})
}

func printChain(out io.Writer, h *host.Host, asJSON bool) error {
	c := h.Chain()
	if asJSON {
		return writeJSON(out, c)
	}
	for _, e := range c.Entries {
		flags := "    "
		if e.Bypass {
			flags = "byp "
		}
		if e.Skipped != "" {
			flags = "skip"
		}
		line := fmt.Sprintf("%2d %s %s", e.Index, flags, e.Key)
		if e.Skipped != "" {
			line += " (" + e.Skipped + ")"
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, c.Topology)
	return nil
}
