package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tunishome/api"
	"tunishome/config"
	"tunishome/events"
	"tunishome/geo"
	"tunishome/httputil"
	"tunishome/identity"
	"tunishome/logging"
	"tunishome/models"
	"tunishome/scheduler"
	"tunishome/scraper"
	"tunishome/services"
	"tunishome/storage"
	"tunishome/workers"
)

var (
	scrapeNow     = flag.Bool("scrape", false, "Run scrape once and exit")
	siteID        = flag.String("site", "", "Only scrape this site")
	maxListings   = flag.Int("max-listings", 0, "Maximum listings per batch (overrides BATCH_SIZE)")
	skipGeocoding = flag.Bool("skip-geocoding", false, "Skip the geocode stage")
	aggregateNow  = flag.Bool("aggregate", false, "Recompute neighborhood stats and deal ratings, then exit")
	geocodeSweep  = flag.Bool("geocode-sweep", false, "Geocode stored properties missing coordinates, then exit")
	dryRun        = flag.Bool("dry-run", false, "Use an in-memory property store instead of Postgres")
	singleURL     = flag.String("url", "", "Ingest a single detail page URL and exit")
)

var errMissingDatabaseURL = errors.New("DATABASE_URL is required unless -dry-run is set")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logFile, err := logging.Setup(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Warn("could not set up file logging", "err", err)
	} else {
		defer logFile.Close()
	}

	if *maxListings > 0 {
		cfg.Pipeline.BatchSize = *maxListings
	}
	if *skipGeocoding {
		cfg.Pipeline.SkipGeocoding = true
	}

	slog.Info("starting tunishome", "sites", len(cfg.Sites), "dry_run", *dryRun)
	for id, site := range cfg.Sites {
		slog.Info("site configured", "id", id, "name", site.Name, "base_url", site.BaseURL)
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients := httputil.NewClients(&cfg.HTTP)

	var store storage.Store
	if *dryRun {
		store = storage.NewMemoryStore()
		slog.Info("using in-memory property store")
	} else {
		if cfg.DatabaseURL == "" {
			return errMissingDatabaseURL
		}
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if err := pgStore.Migrate(ctx); err != nil {
			return err
		}
		slog.Info("connected to Postgres", "dsn", maskConnectionString(cfg.DatabaseURL))
		store = pgStore
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer sqliteStore.Close()
	slog.Info("operational database ready", "path", cfg.DBPath)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return err
		}
		publisher = amqpPub
		slog.Info("publishing events", "exchange", cfg.Events.Exchange)
	}
	defer publisher.Close()

	geocoder := geo.NewGeocoder(
		geo.NewNominatimProvider(clients.API, cfg.Geocoder.URL, cfg.Geocoder.UserAgent, cfg.Geocoder.Country),
		geo.NewMemoryCache(sqliteStore),
		nil,
	)
	propertySvc := services.NewPropertyService(store, publisher, cfg.Pipeline.PruneImages)
	marketSvc := services.NewMarketService(store, store, publisher)

	orchestrator, err := scraper.NewOrchestrator(cfg, sqliteStore, clients.Scraping)
	if err != nil {
		return err
	}
	var stageGeocoder scraper.Geocoder
	if !cfg.Pipeline.SkipGeocoding {
		stageGeocoder = geocoder
	}
	orchestrator.SetServices(propertySvc, marketSvc, stageGeocoder)

	geocodeWorker := workers.NewGeocodeWorker(propertySvc, geocoder)
	var mediaWorker *workers.MediaWorker
	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return err
		}
		mediaWorker = workers.NewMediaWorker(store, uploader, clients.Media)
		orchestrator.SetWorkers(geocodeWorker, mediaWorker)
	} else {
		slog.Info("S3_BUCKET not set, image mirroring disabled")
		orchestrator.SetWorkers(geocodeWorker, nil)
	}

	if *singleURL != "" || *scrapeNow || *geocodeSweep || *aggregateNow {
		return runOnce(ctx, orchestrator, geocodeWorker, marketSvc)
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, orchestrator, sqliteStore, marketSvc)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	go geocodeWorker.Run(ctx, 50, 10*time.Minute)
	if mediaWorker != nil {
		go mediaWorker.Run(ctx, 20, 2*time.Minute)
	}

	var apiServer *api.Server
	if cfg.APIAddr != "" {
		apiServer = api.NewServer(cfg.APIAddr, cfg.APIAllowedOrigins, orchestrator, propertySvc, marketSvc, sqliteStore)
		go func() {
			if err := apiServer.Start(); err != nil {
				slog.Error("api server stopped", "err", err)
			}
		}()
	}

	slog.Info("daemon running, press Ctrl+C to stop")
	<-ctx.Done()

	slog.Info("shutting down")
	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			slog.Warn("api shutdown", "err", err)
		}
	}
	return nil
}

func runOnce(ctx context.Context, orchestrator *scraper.Orchestrator, geocodeWorker *workers.GeocodeWorker, marketSvc *services.MarketService) error {
	switch {
	case *singleURL != "":
		canonical, err := identity.CanonicalURL(*singleURL)
		if err != nil {
			return err
		}
		summary, err := orchestrator.RunURLs(ctx, *siteID, []string{canonical})
		if err != nil {
			return err
		}
		logSummary(summary)
	case *scrapeNow && *siteID != "":
		summary, err := orchestrator.RunSite(ctx, *siteID)
		if err != nil {
			return err
		}
		logSummary(summary)
	case *scrapeNow:
		summary, err := orchestrator.RunAll(ctx)
		if err != nil {
			return err
		}
		logSummary(summary)
	}

	if *geocodeSweep {
		located, missed := geocodeWorker.ProcessBatch(ctx, 500)
		slog.Info("geocode sweep complete", "located", located, "missed", missed)
	}
	if *aggregateNow {
		res, err := marketSvc.Refresh(ctx)
		if err != nil {
			return err
		}
		slog.Info("aggregation complete", "localities", res.Localities, "pruned", res.Pruned, "rated", res.Rated)
	}
	return nil
}

func logSummary(s *models.BatchSummary) {
	slog.Info("scrape complete",
		"discovered", s.Discovered,
		"fetched", s.Fetched,
		"normalized", s.Normalized,
		"geocoded", s.Geocoded,
		"persisted", s.Persisted,
		"inserted", s.Inserted,
		"updated", s.Updated,
		"skipped", s.Skipped,
		"aborted", s.Aborted,
		"cancelled", s.Cancelled,
	)
	if s.AbortReason != "" {
		slog.Warn("batch aborted", "reason", s.AbortReason)
	}
}

// maskConnectionString hides the password of a DSN for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
