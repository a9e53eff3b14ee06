package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/statute-crawler/internal/statute"
)

type crawlOptions struct {
	category int
	from     int
	to       int
	force    bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every indexed document of the selected windows",
		Long: `Runs one window per (category, year) pair. A window is retried with
backoff until a full pass archives every target without failures; failing
tokens are evicted from the pool along the way. Interrupt to stop.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	year := time.Now().Year()
	cmd.Flags().IntVar(&opts.category, "category", 0, "hierarchy id (1 regulations, 2 rules, 3 news); 0 crawls all")
	cmd.Flags().IntVar(&opts.from, "from", year, "first year to crawl")
	cmd.Flags().IntVar(&opts.to, "to", year, "last year to crawl")
	cmd.Flags().BoolVar(&opts.force, "force", false, "crawl windows already marked complete")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	windows, err := buildWindows(opts.category, opts.from, opts.to)
	if err != nil {
		return err
	}

	logger := a.Logger()
	logger.Info("crawl started", zap.Int("windows", len(windows)), zap.Bool("force", opts.force))
	if err := a.Scheduler(opts.force).RunAll(cmd.Context(), windows); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("crawl interrupted")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl finished", zap.Int("windows", len(windows)))
	return nil
}

func resolveCategories(id int) ([]statute.Category, error) {
	if id == 0 {
		return statute.Categories(), nil
	}
	category, err := statute.CategoryByID(id)
	if err != nil {
		return nil, err
	}
	return []statute.Category{category}, nil
}

func buildWindows(categoryID, from, to int) ([]statute.Window, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("years must be positive")
	}
	if from > to {
		return nil, fmt.Errorf("--from %d is after --to %d", from, to)
	}
	categories, err := resolveCategories(categoryID)
	if err != nil {
		return nil, err
	}
	windows := make([]statute.Window, 0, len(categories)*(to-from+1))
	for _, category := range categories {
		for year := from; year <= to; year++ {
			windows = append(windows, statute.Window{Category: category, Year: year})
		}
	}
	return windows, nil
}
