package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Lllllllleong/labreportparser/internal/parser"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func newAliasesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Print the alias table as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := root.aliasTable(cmd.Context())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(table)
			if err != nil {
				return fmt.Errorf("marshal alias table: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	lookup := &cobra.Command{
		Use:   "lookup NAME...",
		Short: "Show how marker names are classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := root.aliasTable(cmd.Context())
			if err != nil {
				return err
			}
			c := parser.NewClassifier(table, parser.DefaultClassifierOptions())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCANONICAL\tCATEGORY\tSUB_GROUP\tMATCH")
			for _, name := range args {
				r := c.Classify(name)
				sg := string(r.SubGroup)
				if sg == "" {
					sg = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, r.Canonical, r.Category, sg, r.Match)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(lookup)
	return cmd
}
