// Package pipeline drives category harvests from fetch to commit and exports
// the committed records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-price-harvester/clock"
	"github.com/aluiziolira/go-price-harvester/config"
	"github.com/aluiziolira/go-price-harvester/models"
	"github.com/aluiziolira/go-price-harvester/parser"
	"github.com/aluiziolira/go-price-harvester/scraper"
	"github.com/aluiziolira/go-price-harvester/store"
)

// OutputWriter defines the interface for exporting committed items.
type OutputWriter interface {
	Write(items []models.HarvestedItem) error
	Close() error
	Validate() error
}

// Fetcher returns the markup of one category page.
type Fetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest, maxRetries int) (string, error)
}

// Committer persists one category harvest atomically.
type Committer interface {
	CommitCategory(ctx context.Context, category string, items []models.HarvestedItem) (store.CommitStats, error)
}

// Options configures an Orchestrator.
type Options struct {
	Target     config.Target
	Selectors  parser.FieldSpecs
	MaxRetries int
	Workers    int
	// Writer receives every committed category batch. Optional.
	Writer  OutputWriter
	Clock   clock.Clock
	Metrics *scraper.Metrics
}

// Orchestrator runs category jobs through fetch, extraction, validation and
// persistence. A failing category never stops the others.
type Orchestrator struct {
	fetcher   Fetcher
	committer Committer
	opts      Options

	writeMu sync.Mutex
}

// New builds an orchestrator. Workers below 1 run categories one at a time.
func New(fetcher Fetcher, committer Committer, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Orchestrator{fetcher: fetcher, committer: committer, opts: opts}
}

// Run harvests every job and returns the per-category outcomes. The result
// is always returned; the error is non-nil only when ctx was cancelled, in
// which case categories that never started are reported as failed.
func (o *Orchestrator) Run(ctx context.Context, jobs []config.CategoryJob) (*models.RunResult, error) {
	result := &models.RunResult{
		RunID:      uuid.NewString(),
		StartTime:  o.opts.Clock.Now(),
		Categories: make([]models.CategoryOutcome, len(jobs)),
	}
	for i, job := range jobs {
		result.Categories[i] = models.CategoryOutcome{Name: job.Name, State: models.StatePending}
	}

	slog.Info("harvest run started",
		slog.String("run_id", result.RunID),
		slog.Int("categories", len(jobs)),
		slog.Int("workers", o.opts.Workers),
	)

	// Plain group: a failed category must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		i, job := i, job // per-iteration copy; module targets go 1.21 loop semantics
		g.Go(func() error {
			result.Categories[i] = o.runCategory(ctx, result.RunID, job)
			return nil
		})
	}
	_ = g.Wait()

	runErr := ctx.Err()
	if runErr != nil {
		for i := range result.Categories {
			if result.Categories[i].State == models.StatePending {
				result.Categories[i].State = models.StateFailed
				result.Categories[i].Err = runErr
				result.Categories[i].Reason = scraper.ErrorLabel(runErr)
			}
		}
	}
	result.EndTime = o.opts.Clock.Now()

	done, failed, newProducts, updated, prices := result.Totals()
	slog.Info("harvest run finished",
		slog.String("run_id", result.RunID),
		slog.Int("done", done),
		slog.Int("failed", failed),
		slog.Int("new", newProducts),
		slog.Int("updated", updated),
		slog.Int("prices", prices),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, runErr
}

func (o *Orchestrator) runCategory(ctx context.Context, runID string, job config.CategoryJob) models.CategoryOutcome {
	log := slog.With(slog.String("run_id", runID), slog.String("category", job.Name))
	start := o.opts.Clock.Now()
	out := models.CategoryOutcome{Name: job.Name, State: models.StateFetching}

	fail := func(err error) models.CategoryOutcome {
		out.State = models.StateFailed
		out.Err = err
		out.Reason = scraper.ErrorLabel(err)
		out.Duration = o.opts.Clock.Now().Sub(start)
		log.Error("category failed",
			slog.String("reason", out.Reason),
			slog.Any("error", err),
		)
		o.opts.Metrics.IncCategory(string(models.StateFailed))
		return out
	}

	log.Info("category started", slog.Int("pages", job.Pages))

	pages, err := o.fetchPages(ctx, job)
	if err != nil {
		return fail(err)
	}
	out.Pages = len(pages)
	log.Info("category fetched", slog.Int("pages", out.Pages))

	out.State = models.StateExtracting
	raw, err := o.extract(log, pages)
	if err != nil {
		return fail(err)
	}
	out.Extracted = len(raw)
	o.opts.Metrics.AddItems(len(raw))
	log.Info("category extracted", slog.Int("records", out.Extracted))

	out.State = models.StateValidating
	accepted, rejected, duplicates := o.validate(log, job.Name, raw)
	out.Rejected = rejected
	out.Duplicates = duplicates

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	out.State = models.StatePersisting
	var stats store.CommitStats
	if len(accepted) > 0 {
		stats, err = o.committer.CommitCategory(ctx, job.Name, accepted)
		if err != nil {
			return fail(fmt.Errorf("persist %s: %w", job.Name, err))
		}
	}
	out.New, out.Updated, out.Prices = stats.New, stats.Updated, stats.Prices
	o.opts.Metrics.AddPersisted("new", stats.New)
	o.opts.Metrics.AddPersisted("updated", stats.Updated)
	o.opts.Metrics.AddPersisted("price", stats.Prices)
	log.Info("category persisted",
		slog.Int("new", stats.New),
		slog.Int("updated", stats.Updated),
		slog.Int("rejected", rejected),
		slog.Int("duplicates", duplicates),
	)

	o.export(log, accepted)

	out.State = models.StateDone
	out.Duration = o.opts.Clock.Now().Sub(start)
	o.opts.Metrics.IncCategory(string(models.StateDone))
	return out
}

// fetchPages fetches the job's pages in order, stopping at the first failure.
func (o *Orchestrator) fetchPages(ctx context.Context, job config.CategoryJob) ([]string, error) {
	pages := make([]string, 0, job.Pages)
	for page := 1; page <= job.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rawURL, err := o.opts.Target.BuildURL(job, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		content, err := o.fetcher.Fetch(ctx, models.FetchRequest{
			URL:      rawURL,
			Page:     page,
			Category: job.Name,
		}, o.opts.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		pages = append(pages, content)
	}
	return pages, nil
}

// extract aligns records page by page so a short field on one page cannot
// shift values across page boundaries.
func (o *Orchestrator) extract(log *slog.Logger, pages []string) ([]models.RawItemFields, error) {
	var raw []models.RawItemFields
	for i, markup := range pages {
		fields, err := parser.ExtractFields(markup, o.opts.Selectors)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		records := parser.AlignRecords(fields)
		if len(records) == 0 {
			log.Warn("page yielded no records", slog.Int("page", i+1))
			continue
		}
		raw = append(raw, records...)
	}
	return raw, nil
}

// validate normalizes raw records, drops invalid ones and collapses repeated
// products to their first occurrence.
func (o *Orchestrator) validate(log *slog.Logger, category string, raw []models.RawItemFields) ([]models.HarvestedItem, int, int) {
	ic := parser.ItemContext{
		Category: category,
		Source:   o.opts.Target.Source,
		Currency: o.opts.Target.Currency,
		BaseURL:  o.opts.Target.BaseURL,
		Now:      o.opts.Clock.Now(),
	}

	accepted := make([]models.HarvestedItem, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	rejected, duplicates := 0, 0
	for _, r := range raw {
		item := parser.Normalize(r, ic)
		if res := parser.ValidateItem(&item); !res.Valid() {
			rejected++
			log.Warn("record rejected",
				slog.String("name", item.Product.Name),
				slog.Any("violations", res.Violations),
			)
			continue
		}
		key := item.DedupeKey()
		if _, ok := seen[key]; ok {
			duplicates++
			log.Debug("duplicate record dropped", slog.String("name", item.Product.Name))
			continue
		}
		seen[key] = struct{}{}
		accepted = append(accepted, item)
	}
	return accepted, rejected, duplicates
}

func (o *Orchestrator) export(log *slog.Logger, items []models.HarvestedItem) {
	if o.opts.Writer == nil || len(items) == 0 {
		return
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := o.opts.Writer.Write(items); err != nil {
		log.Warn("export failed", slog.Any("error", err))
	}
}

// Failures returns the failed outcomes of result joined into one error, or
// nil when every category succeeded.
func Failures(result *models.RunResult) error {
	var errs []error
	for _, c := range result.Categories {
		if c.State == models.StateFailed {
			errs = append(errs, fmt.Errorf("category %s: %s: %w", c.Name, c.Reason, c.Err))
		}
	}
	return errors.Join(errs...)
}
