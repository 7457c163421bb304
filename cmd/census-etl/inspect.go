package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/spf13/cobra"
)

func newGroupsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the variable groups of the dataset, largest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printGroups(cmd.OutOrStdout(), cat)
		},
	}
}

func newVariablesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "variables group",
		Short: "List the variables of a group with their column names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printVariables(cmd.OutOrStdout(), cat, args[0])
		},
	}
}

func newGeographyCmd(opts *options) *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "geography",
		Short: "List the counties that a run would query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("states") {
				cfg.Census.States = states
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			api, rdb, err := newClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer api.Close()
			if rdb != nil {
				defer rdb.Close()
			}

			selected, err := cfg.States()
			if err != nil {
				return err
			}
			geo, err := census.LoadGeography(cmd.Context(), api, cfg.Dataset(), selected, cfg.Fetch.Concurrency)
			if err != nil {
				return err
			}
			return printGeography(cmd.OutOrStdout(), geo)
		},
	}
	cmd.Flags().StringSliceVar(&states, "states", nil, "states to list (FIPS, abbreviation or name)")
	return cmd
}

// loadCatalog validates the configuration and fetches the variable catalog.
func loadCatalog(ctx context.Context, opts *options) (*census.Catalog, error) {
	if err := opts.cfg.Validate(); err != nil {
		return nil, err
	}

	api, rdb, err := newClient(ctx, opts.cfg)
	if err != nil {
		return nil, err
	}
	defer api.Close()
	if rdb != nil {
		defer rdb.Close()
	}

	return census.LoadCatalog(ctx, api, opts.cfg.Dataset())
}

func printGroups(w io.Writer, cat *census.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tVARIABLES\tCONCEPT")
	for _, name := range cat.Groups() {
		info, _ := cat.GroupInfo(name)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, info.Variables, info.Concept)
	}
	return tw.Flush()
}

// printVariables shows the column each variable of group is written under.
func printVariables(w io.Writer, cat *census.Catalog, group string) error {
	group = strings.ToUpper(strings.TrimSpace(group))
	ids := cat.Group(group)
	if ids == nil {
		return fmt.Errorf("unknown group %q", group)
	}

	table := census.Assemble(cat, group, ids, nil)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIABLE\tCOLUMN\tLABEL")
	for i, id := range table.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", id, table.Columns[i], cat.Label(id))
	}
	return tw.Flush()
}

func printGeography(w io.Writer, geo *census.Geography) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tCOUNTY\tNAME")
	for _, u := range geo.Units() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.State, u.County, u.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d counties\n", geo.Len())
	return err
}
