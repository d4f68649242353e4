package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/plugins"
)

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Show and edit the plugins that are never loaded",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List blacklisted plugin keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					for _, k := range h.Blacklist().Keys() {
						fmt.Fprintln(out, k)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <key>",
			Short: "Blacklist a plugin key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					added, err := h.AddToBlacklist(cmd.Context(), plugins.Key(args[0]))
					if err != nil {
						return err
					}
					if !added {
						fmt.Fprintf(out, "%s already blacklisted\n", args[0])
						return nil
					}
					fmt.Fprintf(out, "blacklisted %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <key>",
			Short: "Allow a blacklisted plugin again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					removed, err := h.RemoveFromBlacklist(cmd.Context(), plugins.Key(args[0]))
					if err != nil {
						return err
					}
					if !removed {
						return fmt.Errorf("%s is not blacklisted", args[0])
					}
					fmt.Fprintf(out, "removed %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the blacklist",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					return h.ClearBlacklist(cmd.Context())
				})
			},
		},
	)
	return cmd
}

func newPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show and edit the plugin search paths",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List search paths",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					for _, p := range h.SearchPaths() {
						fmt.Fprintln(out, p)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <path>...",
			Short: "Append search paths",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					paths := h.SearchPaths()
					for _, a := range args {
						abs, err := filepath.Abs(a)
						if err != nil {
							return err
						}
						paths = append(paths, abs)
					}
					return h.SetSearchPaths(cmd.Context(), paths)
				})
			},
		},
		&cobra.Command{
			Use:   "remove <path>...",
			Short: "Remove search paths",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHost(cmd, func(h *host.Host, out io.Writer) error {
					drop := make(map[string]bool, len(args))
					for _, a := range args {
						drop[filepath.Clean(a)] = true
						if abs, err := filepath.Abs(a); err == nil {
							drop[abs] = true
						}
					}
					var keep []string
					for _, p := range h.SearchPaths() {
						if !drop[p] {
							keep = append(keep, p)
						}
					}
					return h.SetSearchPaths(cmd.Context(), keep)
				})
			},
		},
	)
	return cmd
}
