package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"tunishome/config"
	"tunishome/geo"
	"tunishome/httputil"
	"tunishome/models"
	"tunishome/normalize"
	"tunishome/retry"
	"tunishome/services"
	"tunishome/storage"
)

const maxRetryDelay = 30 * time.Second

// PageFetcher is satisfied by *Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// RunRecorder keeps the operational run history. *storage.SQLiteStore implements it.
type RunRecorder interface {
	CreateRun(run *models.ScrapeRun) (int64, error)
	UpdateRun(run *models.ScrapeRun) error
	Log(entry *models.ScrapeLog) error
	UpdateSiteStats(siteID string) error
}

type Geocoder interface {
	Geocode(ctx context.Context, city string, region *string) *geo.Point
}

type Upserter interface {
	Upsert(ctx context.Context, p *models.Property, origin models.WriteOrigin) (*services.UpsertResult, error)
}

type Aggregator interface {
	Refresh(ctx context.Context) (*services.RefreshResult, error)
}

// Trigger wakes a background worker for an immediate pass.
type Trigger interface {
	Trigger()
}

type site struct {
	cfg     *config.SiteConfig
	handler Handler
	fetcher PageFetcher
}

type Orchestrator struct {
	cfg        *config.Config
	recorder   RunRecorder
	sites      map[string]*site
	normalizer *normalize.Normalizer

	properties Upserter
	market     Aggregator
	geocoder   Geocoder
	geoSweep   Trigger
	mediaSweep Trigger

	mu     sync.Mutex
	paused bool
}

// NewOrchestrator builds one handler and one throttled fetcher per configured site.
func NewOrchestrator(cfg *config.Config, recorder RunRecorder, client *http.Client) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:        cfg,
		recorder:   recorder,
		sites:      make(map[string]*site),
		normalizer: normalize.New(),
	}
	for id, siteCfg := range cfg.Sites {
		handler, err := NewHandler(siteCfg)
		if err != nil {
			return nil, err
		}
		gateway := httputil.NewGateway(siteCfg.RateLimit(), nil)
		fetcher, err := NewFetcher(client, gateway, siteCfg.Encoding, siteCfg.UserAgent)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", id, err)
		}
		o.sites[id] = &site{cfg: siteCfg, handler: handler, fetcher: fetcher}
	}
	return o, nil
}

// SetServices wires the persistence side. A nil geocoder disables the geocode stage.
func (o *Orchestrator) SetServices(properties Upserter, market Aggregator, geocoder Geocoder) {
	o.properties = properties
	o.market = market
	o.geocoder = geocoder
}

func (o *Orchestrator) SetWorkers(geocodeSweep, mediaSweep Trigger) {
	o.geoSweep = geocodeSweep
	o.mediaSweep = mediaSweep
}

func (o *Orchestrator) RunAll(ctx context.Context) (*models.BatchSummary, error) {
	total := models.NewBatchSummary()
	if o.IsPaused() {
		slog.Info("scraper is paused, skipping run")
		return total, nil
	}

	for _, siteID := range o.GetSiteIDs() {
		summary, err := o.RunSite(ctx, siteID)
		if summary != nil {
			total.Add(summary)
		}
		if err != nil {
			slog.Error("site run failed", "site", siteID, "err", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return total, nil
}

// RunSite discovers detail URLs from the site's index pages and ingests up to BatchSize of them.
func (o *Orchestrator) RunSite(ctx context.Context, siteID string) (*models.BatchSummary, error) {
	s, ok := o.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("unknown site: %s", siteID)
	}
	run, err := o.startRun(siteID)
	if err != nil {
		return nil, err
	}

	urls, err := o.discover(ctx, run, s)
	if err != nil {
		o.log(run, models.LogLevelError, models.StageFetch, "", fmt.Sprintf("discovery failed: %v", err))
		o.finishRun(run, models.NewBatchSummary(), models.RunStatusFailed)
		return nil, err
	}

	summary := o.RunBatch(ctx, run, s.handler, s.fetcher, urls)
	summary.Discovered = len(urls)
	o.finishRun(run, summary, runStatus(summary))
	return summary, nil
}

// RunURLs ingests the given detail URLs without discovery.
func (o *Orchestrator) RunURLs(ctx context.Context, siteID string, urls []string) (*models.BatchSummary, error) {
	if siteID == "" {
		ids := o.GetSiteIDs()
		if len(ids) != 1 {
			return nil, errors.New("site is required when more than one site is configured")
		}
		siteID = ids[0]
	}
	s, ok := o.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("unknown site: %s", siteID)
	}
	run, err := o.startRun(siteID)
	if err != nil {
		return nil, err
	}
	summary := o.RunBatch(ctx, run, s.handler, s.fetcher, urls)
	summary.Discovered = len(urls)
	o.finishRun(run, summary, runStatus(summary))
	return summary, nil
}

func (o *Orchestrator) discover(ctx context.Context, run *models.ScrapeRun, s *site) ([]string, error) {
	limit := o.cfg.Pipeline.BatchSize
	seen := make(map[string]bool)
	var urls []string

	for page := 1; page <= s.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			break
		}
		pageURL := s.handler.IndexURL(page)
		html, err := o.fetch(ctx, s.fetcher, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			o.log(run, models.LogLevelWarn, models.StageFetch, pageURL, fmt.Sprintf("index page failed: %v", err))
			break
		}
		links, err := s.handler.ExtractLinks(html, pageURL)
		if err != nil {
			return nil, err
		}
		if len(links) == 0 {
			break
		}
		for _, link := range links {
			if seen[link] {
				continue
			}
			seen[link] = true
			urls = append(urls, link)
			if limit > 0 && len(urls) >= limit {
				return urls, nil
			}
		}
	}
	o.log(run, models.LogLevelInfo, "", "", fmt.Sprintf("discovered %d listings", len(urls)))
	return urls, nil
}

// RunBatch processes urls in order. Per-item failures are logged and counted, never returned.
func (o *Orchestrator) RunBatch(ctx context.Context, run *models.ScrapeRun, handler Handler, fetcher PageFetcher, urls []string) *models.BatchSummary {
	summary := models.NewBatchSummary()
	pc := o.cfg.Pipeline
	consecutive := 0
	if run == nil {
		run = &models.ScrapeRun{SiteID: handler.ID()}
	}

	for _, url := range urls {
		if ctx.Err() != nil {
			summary.Cancelled = true
			o.log(run, models.LogLevelWarn, "", "", "batch cancelled, no further fetches")
			break
		}

		err := o.processItem(ctx, run, handler, fetcher, url, summary)
		if err == nil {
			consecutive = 0
			continue
		}
		if ctx.Err() != nil && models.StageOf(err) == models.StageFetch {
			summary.Cancelled = true
			break
		}

		stage := models.StageOf(err)
		summary.Skip(stage)
		o.log(run, models.LogLevelError, stage, url, err.Error())

		if !models.Systemic(err) {
			consecutive = 0
			continue
		}
		consecutive++
		if pc.MaxConsecutiveFailures > 0 && consecutive >= pc.MaxConsecutiveFailures {
			summary.Aborted = true
			summary.AbortReason = fmt.Sprintf("%d consecutive %s failures", consecutive, stage)
			o.log(run, models.LogLevelError, stage, "", "aborting batch: "+summary.AbortReason)
			break
		}
	}

	if summary.Persisted > 0 && pc.AggregateAfterBatch && o.market != nil {
		// Stats only depend on what is already stored, so a cancelled batch still refreshes.
		actx, cancel := withTimeout(context.WithoutCancel(ctx), 5*pc.StageTimeout)
		res, err := o.market.Refresh(actx)
		cancel()
		if err != nil {
			o.log(run, models.LogLevelError, "", "", fmt.Sprintf("aggregation failed: %v", err))
		}
		if res != nil {
			summary.Localities = res.Localities
			summary.Rated = res.Rated
		}
	}

	o.log(run, models.LogLevelInfo, "", "", fmt.Sprintf(
		"batch done: %d fetched, %d normalized, %d geocoded, %d persisted (%d new), %d skipped",
		summary.Fetched, summary.Normalized, summary.Geocoded, summary.Persisted, summary.Inserted, summary.SkippedTotal()))
	return summary
}

func (o *Orchestrator) processItem(ctx context.Context, run *models.ScrapeRun, handler Handler, fetcher PageFetcher, url string, summary *models.BatchSummary) error {
	html, err := o.fetch(ctx, fetcher, url)
	if err != nil {
		return err
	}
	summary.Fetched++

	raw, err := handler.ExtractListing(html, url)
	if err != nil {
		return ensureStage(err, func(err error) error { return &models.ParseError{URL: url, Reason: err.Error()} })
	}
	summary.Extracted++

	p, err := o.normalizer.Normalize(raw)
	if err != nil {
		return ensureStage(err, func(err error) error {
			return &models.NormalizationError{URL: url, Field: "record", Reason: err.Error()}
		})
	}
	summary.Normalized++

	if o.geocoder != nil && !o.cfg.Pipeline.SkipGeocoding && p.City != nil {
		gctx, cancel := withTimeout(ctx, o.cfg.Pipeline.StageTimeout)
		pt := o.geocoder.Geocode(gctx, *p.City, p.Region)
		cancel()
		if pt != nil {
			p.SetCoordinates(pt.Lat, pt.Lon, geo.Hash(*pt))
			summary.Geocoded++
		}
	}

	if o.properties == nil {
		return &models.PersistenceError{URL: p.SourceURL, Op: "upsert", Err: errors.New("property service not configured")}
	}
	res, err := o.persist(ctx, p)
	if err != nil {
		return err
	}
	summary.Persisted++
	if res.Inserted {
		summary.Inserted++
	} else {
		summary.Updated++
	}
	slog.Debug("listing persisted", "url", p.SourceURL, "id", res.ID, "inserted", res.Inserted)
	return nil
}

func (o *Orchestrator) fetch(ctx context.Context, fetcher PageFetcher, url string) (string, error) {
	pc := o.cfg.Pipeline
	var html string
	policy := retry.Config{
		MaxAttempts: pc.FetchRetries,
		BaseDelay:   pc.RetryBaseDelay,
		MaxDelay:    maxRetryDelay,
		Retryable:   models.Retryable,
	}
	err := policy.Do(ctx, "fetch "+url, func(ctx context.Context) error {
		fctx, cancel := withTimeout(ctx, pc.StageTimeout)
		defer cancel()
		var err error
		html, err = fetcher.Fetch(fctx, url)
		return err
	})
	if err != nil {
		return "", ensureStage(err, func(err error) error { return &models.FetchError{URL: url, Err: err} })
	}
	return html, nil
}

// persist finishes even when the batch is cancelled; the item is already normalized.
func (o *Orchestrator) persist(ctx context.Context, p *models.Property) (*services.UpsertResult, error) {
	pc := o.cfg.Pipeline
	ctx = context.WithoutCancel(ctx)
	var res *services.UpsertResult
	policy := retry.Config{
		MaxAttempts: pc.PersistRetries,
		BaseDelay:   pc.RetryBaseDelay,
		MaxDelay:    maxRetryDelay,
		Retryable:   models.Retryable,
	}
	err := policy.Do(ctx, "persist "+p.SourceURL, func(ctx context.Context) error {
		pctx, cancel := withTimeout(ctx, pc.StageTimeout)
		defer cancel()
		var err error
		res, err = o.properties.Upsert(pctx, p, models.OriginScrape)
		return err
	})
	if err != nil {
		return nil, ensureStage(err, func(err error) error {
			return &models.PersistenceError{URL: p.SourceURL, Op: "upsert", Err: err}
		})
	}
	return res, nil
}

// ensureStage wraps err with wrap unless it already carries a stage.
func ensureStage(err error, wrap func(error) error) error {
	if models.StageOf(err) != "" {
		return err
	}
	return wrap(err)
}

// withTimeout bounds a stage. A non-positive d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func runStatus(s *models.BatchSummary) models.RunStatus {
	if s.Aborted || s.Cancelled {
		return models.RunStatusAborted
	}
	return models.RunStatusCompleted
}

func (o *Orchestrator) startRun(siteID string) (*models.ScrapeRun, error) {
	run := &models.ScrapeRun{
		SiteID:    siteID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
		Summary:   *models.NewBatchSummary(),
	}
	if o.recorder == nil {
		return run, nil
	}
	id, err := o.recorder.CreateRun(run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.ID = id
	o.log(run, models.LogLevelInfo, "", "", "starting scrape")
	return run, nil
}

func (o *Orchestrator) finishRun(run *models.ScrapeRun, summary *models.BatchSummary, status models.RunStatus) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	run.Summary = *summary
	if o.recorder == nil {
		return
	}
	if err := o.recorder.UpdateRun(run); err != nil {
		slog.Error("update run failed", "run", run.ID, "err", err)
	}
	if err := o.recorder.UpdateSiteStats(run.SiteID); err != nil {
		slog.Error("update site stats failed", "site", run.SiteID, "err", err)
	}
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err := o.RunAll(ctx)
		return err
	case models.CmdScrapeSite:
		if params.Site == "" {
			_, err := o.RunAll(ctx)
			return err
		}
		_, err := o.RunSite(ctx, params.Site)
		return err
	case models.CmdAggregate:
		if o.market == nil {
			return errors.New("market service not configured")
		}
		_, err := o.market.Refresh(ctx)
		return err
	case models.CmdGeocodeSweep:
		if o.geoSweep != nil {
			o.geoSweep.Trigger()
		}
	case models.CmdMirrorImages:
		if o.mediaSweep != nil {
			o.mediaSweep.Trigger()
		}
	case models.CmdPause:
		o.Pause()
	case models.CmdResume:
		o.Resume()
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
	return nil
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
	slog.Info("scraper paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	slog.Info("scraper resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// log writes to slog and, when a recorder is wired, to the run's persisted log.
func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, stage models.Stage, url, message string) {
	attrs := []any{"site", run.SiteID, "run", run.ID}
	if stage != "" {
		attrs = append(attrs, "stage", stage)
	}
	if url != "" {
		attrs = append(attrs, "url", url)
	}
	switch level {
	case models.LogLevelError:
		slog.Error(message, attrs...)
	case models.LogLevelWarn:
		slog.Warn(message, attrs...)
	default:
		slog.Info(message, attrs...)
	}

	if o.recorder == nil || run.ID == 0 {
		return
	}
	runID := run.ID
	entry := &models.ScrapeLog{
		RunID:     &runID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		SiteID:    run.SiteID,
		Stage:     stage,
		URL:       url,
	}
	if err := o.recorder.Log(entry); err != nil {
		slog.Warn("persist run log failed", "err", err)
	}
}

func (o *Orchestrator) GetSiteIDs() []string {
	ids := make([]string, 0, len(o.sites))
	for id := range o.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
