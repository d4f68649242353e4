package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shaban/fxhost/host"
	"github.com/shaban/fxhost/plugins"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and edit the plugin catalog",
	}

	var (
		format  string
		vendor  string
		name    string
		asJSON  bool
		capable bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List catalogued plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, func(h *host.Host, out io.Writer) error {
				ds := h.Catalog().Descriptors()
				if format != "" {
					f, err := plugins.ParseFormat(format)
					if err != nil {
						return err
					}
					ds = ds.ByFormat(f)
				}
				if vendor != "" {
					ds = ds.ByVendor(vendor)
				}
				if name != "" {
					ds = ds.ByName(name)
				}
				if capable {
					ds = ds.ChannelCapable()
				}
				if asJSON {
					return writeJSON(out, ds)
				}
				for _, d := range ds {
					fmt.Fprintf(out, "%-50s %s\n", d.Key(), d)
				}
				fmt.Fprintln(out, ds.Summary())
				return nil
			})
		},
	}
	list.Flags().StringVar(&format, "format", "", "only this format")
	list.Flags().StringVar(&vendor, "vendor", "", "vendor contains (case-insensitive)")
	list.Flags().StringVar(&name, "name", "", "name contains (case-insensitive)")
	list.Flags().BoolVar(&capable, "chainable", false, "only plugins with audio inputs and outputs")
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	remove := &cobra.Command{
		Use:   "remove <key>",
		Short: "Forget a catalogued plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHost(cmd, func(h *host.Host, out io.Writer) error {
				removed, err := h.RemoveFromCatalog(cmd.Context(), plugins.Key(args[0]))
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s is not in the catalog", args[0])
				}
				fmt.Fprintf(out, "removed %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, remove)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
