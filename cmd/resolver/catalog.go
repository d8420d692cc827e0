package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hazyhaar/hifi-resolver/pkg/index"
	"github.com/hazyhaar/hifi-resolver/pkg/match"
	"github.com/hazyhaar/hifi-resolver/pkg/store"
)

const importBatch = 500

func openStore() (*store.Store, error) {
	path := viper.GetString("catalog.db")
	if path == "" {
		return nil, fmt.Errorf("no catalog database configured (use --catalog-db)")
	}
	return store.Open(path)
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the product catalog",
	}
	cmd.AddCommand(catalogImportCmd())
	cmd.AddCommand(catalogAddCmd())
	cmd.AddCommand(catalogListCmd())
	cmd.AddCommand(catalogDeleteCmd())
	cmd.AddCommand(catalogStatsCmd())
	return cmd
}

func catalogImportCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import catalog entries from a CSV export",
		Long: `Import catalog entries from a CSV file with a header row. The name column
is required; id, brand and category are optional. Rows are upserted by id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			res, err := store.ReadEntriesCSV(f, category)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			bar := progressbar.NewOptions(len(res.Entries),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("importing catalog"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
			imported := 0
			for start := 0; start < len(res.Entries); start += importBatch {
				end := min(start+importBatch, len(res.Entries))
				n, err := st.UpsertEntries(ctx, res.Entries[start:end])
				if err != nil {
					return err
				}
				imported += n
				if err := bar.Add(n); err != nil {
					slog.Warn("update progress bar", "error", err)
				}
			}
			_ = bar.Finish()

			slog.Info("catalog imported", "file", args[0], "entries", imported, "skipped", res.Skipped)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d imported, %d skipped\n", labelStyle.Render("catalog:"), imported, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category for rows without one")
	return cmd
}

func catalogAddCmd() *cobra.Command {
	var (
		c        index.Candidate
		category string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add one catalog entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := openService(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			c.Name = strings.Join(args, " ")
			added, err := svc.AddEntry(cmd.Context(), category, c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), added.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.ID, "id", "", "entry id (default: generated)")
	cmd.Flags().StringVar(&c.Brand, "brand", "", "entry brand")
	cmd.Flags().StringVar(&category, "category", "", "entry category")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func catalogListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.ListEntries(cmd.Context(), category)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No catalog entries."))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				labelStyle.Render("ID"),
				labelStyle.Render("Category"),
				labelStyle.Render("Brand"),
				labelStyle.Render("Name"))
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Category, e.Brand, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	return cmd
}

func catalogDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteEntry(cmd.Context(), args[0])
		},
	}
}

func catalogStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog entry counts per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			stats := svc.Stats()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			cats := make([]string, 0, len(stats.Categories))
			for c := range stats.Categories {
				cats = append(cats, c)
			}
			sort.Strings(cats)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			for _, c := range cats {
				fmt.Fprintf(w, "%s\t%d\n", c, stats.Categories[c])
			}
			fmt.Fprintf(w, "%s\t%d\n", labelStyle.Render("total"), stats.Entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func reviewsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List and settle decisions waiting for review",
	}
	cmd.AddCommand(reviewsListCmd())
	cmd.AddCommand(reviewsResolveCmd())
	return cmd
}

func reviewsListCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reviews, highest score first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			pending, err := st.PendingReviews(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if pending == nil {
					pending = []store.Decision{}
				}
				return printJSON(cmd.OutOrStdout(), pending)
			}
			if len(pending) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No pending reviews."))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				labelStyle.Render("ID"),
				labelStyle.Render("Category"),
				labelStyle.Render("Score"),
				labelStyle.Render("Listing"),
				labelStyle.Render("Candidate"))
			for _, d := range pending {
				fmt.Fprintf(w, "%s\t%s\t%.3f\t%s\t%s\n", d.ID, d.Category, d.Score, d.ListingName, d.CandidateID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of reviews")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func reviewsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> <auto_merge|reject>",
		Short: "Settle a pending review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome := match.Outcome(args[1])
			if outcome != match.AutoMerge && outcome != match.Reject {
				return fmt.Errorf("outcome must be %s or %s, got %q", match.AutoMerge, match.Reject, args[1])
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ResolveReview(cmd.Context(), args[0], outcome); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render(args[0]+":"), outcomeStyle(outcome).Render(string(outcome)))
			return nil
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule files",
	}
	cmd.AddCommand(rulesCheckCmd())
	return cmd
}

func rulesCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and compile the rule files, then report what they hold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := openService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			info := svc.Rules()
			if asJSON {
				return printJSON(cmd.OutOrStdout(), info)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintf(w, "%s\t%s\n", labelStyle.Render("version"), info.Version)
			fmt.Fprintf(w, "%s\t%s\n", labelStyle.Render("source"), info.Source)
			c := info.Counts
			for _, row := range []struct {
				name string
				n    int
			}{
				{"aliases", c.Aliases},
				{"parents", c.Parents},
				{"overrides", c.Overrides},
				{"brand_only", c.BrandOnly},
				{"brand_model", c.BrandModel},
				{"keywords", c.Keywords},
				{"patterns", c.Patterns},
			} {
				fmt.Fprintf(w, "%s\t%d\n", row.name, row.n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
