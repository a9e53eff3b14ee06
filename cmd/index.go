package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

type indexOptions struct {
	category int
	year     int
	month    int
	token    string
	force    bool
}

// newIndexCmd creates the 'index' subcommand.
func newIndexCmd() *cobra.Command {
	opts := &indexOptions{}
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build month index files from the search API",
		Long: `Pages the search API for each month of a (category, year) window and
writes one index file per month. Existing months are kept unless --force.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.category, "category", 1, "hierarchy id (1 regulations, 2 rules, 3 news); 0 indexes all")
	cmd.Flags().IntVar(&opts.year, "year", time.Now().Year(), "year to index")
	cmd.Flags().IntVar(&opts.month, "month", 0, "single month to rebuild; 0 indexes the whole year")
	cmd.Flags().StringVar(&opts.token, "token", "", "access token to use instead of one from the pool")
	cmd.Flags().BoolVar(&opts.force, "force", false, "rebuild months that already have an index")
	return cmd
}

func runIndex(cmd *cobra.Command, opts *indexOptions) error {
	if opts.month < 0 || opts.month > 12 {
		return fmt.Errorf("--month must be between 0 and 12")
	}
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	windows, err := buildWindows(opts.category, opts.year, opts.year)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	token := opts.token
	if token == "" {
		var ok bool
		token, ok, err = a.Pool().AcquireToken(ctx)
		if err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
		if !ok {
			return statute.ErrNoToken
		}
	}

	builder := a.Builder()
	total := 0
	for _, window := range windows {
		var n int
		if opts.month > 0 {
			n, err = builder.BuildMonth(ctx, token, window, opts.month)
		} else {
			n, err = builder.BuildWindow(ctx, token, window, opts.force)
		}
		total += n
		if err != nil {
			return fmt.Errorf("index %s: %w", window, err)
		}
		a.Logger().Info("window indexed", zap.String("window", window.String()), zap.Int("entries", n))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entries\n", total)
	return nil
}
