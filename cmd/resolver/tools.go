package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/hifi-resolver/pkg/classify"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/service"
)

var (
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	mergeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	reviewStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	rejectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func outcomeStyle(o match.Outcome) lipgloss.Style {
	switch o {
	case match.AutoMerge:
		return mergeStyle
	case match.PendingReview:
		return reviewStyle
	default:
		return rejectStyle
	}
}

func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label+":"), value)
}

func normalizeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "normalize <name>",
		Short: "Print the comparable form of a product name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			n := svc.Normalize(strings.Join(args, " "))
			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, n)
			}
			field(w, "normalized", n.Normalized)
			field(w, "tokens", strings.Join(n.Tokens, " "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func compareBrandsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "compare-brands <a> <b>",
		Short: "Relate two brand strings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			c := svc.CompareBrands(args[0], args[1])
			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, c)
			}
			field(w, "relation", c.Relation)
			field(w, "canonical", fmt.Sprintf("%s / %s", c.CanonicalA, c.CanonicalB))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func classifyCmd() *cobra.Command {
	var (
		l       service.Listing
		explain bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "classify <name>",
		Short: "Assign or correct the category of a listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			l.Name = strings.Join(args, " ")
			c, err := svc.Classify(l)
			if err != nil {
				return err
			}
			var tiers []classify.Result
			if explain {
				if tiers, err = svc.Explain(l); err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, struct {
					*service.Classification
					Tiers []classify.Result `json:"tiers,omitempty"`
				}{c, tiers})
			}
			printClassification(w, c)
			for _, t := range tiers {
				fmt.Fprintf(w, "  %s %s/%s %s\n", mutedStyle.Render(t.Tier), t.Category, t.Subcategory, mutedStyle.Render(t.Rule))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&l.Brand, "brand", "", "listing brand")
	cmd.Flags().StringVar(&l.Category, "category", "", "current category")
	cmd.Flags().BoolVar(&explain, "explain", false, "list every tier that matches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printClassification(w io.Writer, c *service.Classification) {
	category := c.Category
	if category == "" {
		category = mutedStyle.Render("(none)")
	}
	if c.Result == nil {
		field(w, "category", category+" "+mutedStyle.Render("(unchanged)"))
		return
	}
	if c.Result.Subcategory != "" {
		category += "/" + string(c.Result.Subcategory)
	}
	field(w, "category", category)
	field(w, "rule", fmt.Sprintf("%s %s", c.Result.Tier, mutedStyle.Render(c.Result.Rule)))
}

func matchCmd() *cobra.Command {
	var (
		l          service.Listing
		reclassify bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "match <name>",
		Short: "Match a listing against the catalog",
		Long: `Match a listing against the catalog stored in --catalog-db. With --classify
the category is corrected first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, cleanup, err := openService(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			l.Name = strings.Join(args, " ")
			var res *service.Resolution
			if reclassify {
				res, err = svc.Resolve(ctx, l)
			} else {
				res, err = svc.Match(ctx, l)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return printJSON(w, res)
			}
			field(w, "outcome", outcomeStyle(res.Outcome).Render(string(res.Outcome)))
			field(w, "category", res.Category)
			if r := res.Result; r != nil {
				field(w, "candidate", fmt.Sprintf("%s %s", r.CandidateName, mutedStyle.Render("("+r.CandidateID+")")))
				field(w, "score", fmt.Sprintf("%.3f", r.Score))
			}
			if res.AppendedID != "" {
				field(w, "appended", res.AppendedID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&l.ID, "id", "", "listing id")
	cmd.Flags().StringVar(&l.Brand, "brand", "", "listing brand")
	cmd.Flags().StringVar(&l.Category, "category", "", "listing category")
	cmd.Flags().BoolVar(&reclassify, "classify", false, "classify before matching")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
