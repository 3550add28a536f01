package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/grandcru/winematch/internal/config"
	"github.com/grandcru/winematch/internal/resolver"
	"github.com/grandcru/winematch/internal/search"
)

// resolveFlags override the resolver and search config for one run. Only
// flags set on the command line are applied.
type resolveFlags struct {
	provider      string
	maxAPIQueries int
	cacheTTLHours float64
	onlyNew       bool
	autoApply     bool
	limit         int
	workers       int
	minConfidence float64
	minMargin     float64
	workbook      string
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.provider, "provider", "", "search provider: auto, none, brave, serper, google_cse")
	fs.IntVar(&f.maxAPIQueries, "max-api-queries", 0, "live search call budget (0 = unlimited)")
	fs.Float64Var(&f.cacheTTLHours, "cache-ttl-hours", 0, "query cache TTL in hours (0 = never expire)")
	fs.BoolVar(&f.onlyNew, "only-new", true, "skip rows attempted in previous runs")
	fs.BoolVar(&f.autoApply, "auto-apply", false, "merge auto-accepted matches into the overrides table")
	fs.IntVar(&f.limit, "limit", 0, "max unresolved rows to process (0 = all)")
	fs.IntVar(&f.workers, "workers", 1, "rows resolved concurrently")
	fs.Float64Var(&f.minConfidence, "min-confidence", 0, "auto-accept score threshold")
	fs.Float64Var(&f.minMargin, "min-margin", 0, "auto-accept margin over the runner-up")
	fs.StringVar(&f.workbook, "review-workbook", "", "also write the review queue as an xlsx workbook")
}

func (f *resolveFlags) apply(cmd *cobra.Command, c *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("provider") {
		c.Search.Provider = f.provider
	}
	if fs.Changed("max-api-queries") {
		c.Search.MaxAPIQueries = f.maxAPIQueries
	}
	if fs.Changed("cache-ttl-hours") {
		c.Search.CacheTTLHours = f.cacheTTLHours
	}
	if fs.Changed("only-new") {
		c.Resolver.OnlyNew = f.onlyNew
	}
	if fs.Changed("auto-apply") {
		c.Resolver.AutoApply = f.autoApply
	}
	if fs.Changed("limit") {
		c.Resolver.Limit = f.limit
	}
	if fs.Changed("workers") {
		c.Resolver.Workers = f.workers
	}
	if fs.Changed("min-confidence") {
		c.Resolver.MinConfidence = f.minConfidence
	}
	if fs.Changed("min-margin") {
		c.Resolver.MinMargin = f.minMargin
	}
	if fs.Changed("review-workbook") {
		c.Paths.ReviewWorkbook = f.workbook
	}
}

var resolveOpts resolveFlags

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Search for Vivino matches of unresolved wines and write the review queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		resolveOpts.apply(cmd, cfg)
		sum, err := runResolve(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), sum)
	},
}

func runResolve(ctx context.Context, c *config.Config) (*resolver.Summary, error) {
	if err := c.Validate("resolve"); err != nil {
		return nil, err
	}
	providers := search.NewProviders(c.Search.Credentials())
	sum, err := resolver.New(c.ResolverOptions(), providers).Run(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve")
	}
	return sum, nil
}

func init() {
	resolveOpts.register(resolveCmd)
	rootCmd.AddCommand(resolveCmd)
}
