package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/relationship"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/theme"
)

func printPatterns(w io.Writer, res *attack.SearchResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHASE\tPLATFORMS")
	for _, p := range res.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ExternalID, p.Name, p.PhaseName, strings.Join(p.Platforms, ", "))
	}
	fmt.Fprintf(tw, "\n%d of %d (offset %d)\n", len(res.Results), res.Total, res.Offset)
	return tw.Flush()
}

func newSearchCmd() *cobra.Command {
	var (
		limit, offset int
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search attack patterns; an empty query lists all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			res, err := apiClient().SearchPatterns(cmd.Context(), attack.SearchRequest{Query: query, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			return printPatterns(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of results to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show catalog totals and distributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := apiClient().Stats(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Total patterns:\t%d\n\nPHASE\tCOUNT\n", stats.TotalPatterns)
			for _, b := range stats.PhaseDistribution {
				fmt.Fprintf(tw, "%s\t%d\n", b.ID, b.Count)
			}
			fmt.Fprintln(tw, "\nPLATFORM\tCOUNT")
			for _, b := range stats.PlatformDistribution {
				fmt.Fprintf(tw, "%s\t%d\n", b.ID, b.Count)
			}
			return tw.Flush()
		},
	}
}

func newGraphCmd() *cobra.Command {
	var (
		query     string
		unordered bool
		out       string
		format    string
		themeFile string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Compute the relationship graph of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "dot" && format != "json" {
				return fmt.Errorf("unknown format %q, want dot or json", format)
			}

			palette := theme.Default()
			if themeFile != "" {
				p, err := theme.Load(themeFile)
				if err != nil {
					return err
				}
				palette = p
			}

			res, err := apiClient().DashboardData(cmd.Context())
			if err != nil {
				return err
			}

			var opts []relationship.Option
			if unordered {
				opts = append(opts, relationship.WithUnorderedPairs())
			}
			g := relationship.Compute(relationship.Filter(res.Results, query), opts...)

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			if format == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			}
			return g.ExportDOT(w, func(t relationship.Type) string {
				return palette.RelationshipColor(string(t))
			})
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "only include patterns matching this text")
	cmd.Flags().BoolVar(&unordered, "unordered", false, "emit one edge per pair instead of one per direction")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot or json")
	cmd.Flags().StringVar(&themeFile, "theme", "", "palette file for edge colors")
	return cmd
}
