package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"lorevault/internal/api"
	"lorevault/internal/bridge"
	"lorevault/internal/config"
	"lorevault/internal/media"
	"lorevault/internal/progress"
	"lorevault/internal/server"
	"lorevault/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", api.Version).
		Msg("starting lorevault server")

	// Initialize storage, degrading to a session-only library
	store, persistent := openStore(cfg.Database, logger)
	defer store.Close()

	limits := media.Limits{
		MaxItems:       cfg.Limits.MaxItems,
		ChunkThreshold: cfg.Limits.ChunkThreshold,
		ChunkSize:      cfg.Limits.ChunkSize,
		BatchSize:      cfg.Limits.BatchSize,
		BatchBytes:     cfg.Limits.BatchBytes,
	}
	importer := media.NewImporter(store, limits, logger)
	queue := media.NewImportQueue(logger)

	handles := media.NewHandles()
	var bridgeClient *bridge.Client
	if cfg.Bridge.URL != "" {
		bridgeClient = bridge.NewClient(cfg.Bridge.URL, cfg.Bridge.Timeout)
		handles.Register("bridge", bridgeClient.OpenFile)
		logger.Info().Str("url", cfg.Bridge.URL).Msg("bridge client enabled")
	}

	opts := progress.DefaultResolverOptions()
	opts.SampleWindow = cfg.Limits.SampleWindow
	opts.CacheCapacity = cfg.Cache.ReferenceCapacity
	resolver := progress.NewResolver(store, importer.Codec(), handles, opts, logger)

	var ledger progress.Ledger
	if cfg.Progress.RemoteURL != "" {
		ledger = progress.NewRemoteLedger(cfg.Progress.RemoteURL, cfg.Progress.Timeout)
		logger.Info().Str("url", cfg.Progress.RemoteURL).Msg("remote progress ledger enabled")
	} else {
		ledger = store.(progress.Ledger)
	}
	tracker := progress.NewTracker(resolver, ledger, logger)

	// Create server
	srv := server.New(cfg, logger, api.Deps{
		Store:       store,
		Importer:    importer,
		Queue:       queue,
		Resolver:    resolver,
		Tracker:     tracker,
		Bridge:      bridgeClient,
		LibraryName: cfg.Library.Name,
		Persistent:  persistent,
		MaxUpload:   cfg.Server.MaxUploadSize,
	})

	// Handle shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Link configured directories
	if len(cfg.Library.LinkPaths) > 0 {
		roots := openRoots(cfg.Library.LinkPaths, logger)
		go linkRoots(ctx, queue, importer, roots, logger)

		if cfg.Library.Watch {
			watcher, err := media.NewWatcher(importer, queue, cfg.Library.WatchDebounce, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to start watcher")
			} else {
				for _, root := range roots {
					if err := watcher.Link(root); err != nil {
						logger.Warn().Err(err).Str("path", root.Path()).Msg("failed to watch directory")
					}
				}
				go watcher.Run(ctx)
			}
		}
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("received shutdown signal")
		queue.Cancel()
		cancel()

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	// Start server
	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped")
}

func openStore(cfg config.DatabaseConfig, logger zerolog.Logger) (storage.Store, bool) {
	store, err := storage.NewSQLiteStorage(cfg.Path, storage.Options{MaxSizeBytes: cfg.MaxSizeBytes})
	if err == nil {
		return store, true
	}
	if !errors.Is(err, storage.ErrUnavailable) {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	logger.Warn().Err(err).Msg("library database unavailable, imports last for this session only")
	return storage.NewMemoryStorage(cfg.MaxSizeBytes), false
}

func openRoots(paths []string, logger zerolog.Logger) []*media.OSDir {
	var roots []*media.OSDir
	for _, p := range paths {
		root, err := media.NewOSDir(p)
		if err != nil {
			logger.Error().Err(err).Str("path", p).Msg("cannot link directory")
			continue
		}
		roots = append(roots, root)
	}
	return roots
}

// linkRoots imports each root in turn, waiting out imports already running.
func linkRoots(ctx context.Context, queue *media.ImportQueue, importer *media.Importer, roots []*media.OSDir, logger zerolog.Logger) {
	for _, root := range roots {
		root := root
		for {
			job, started := queue.Start("link "+root.Path(), func(ctx context.Context) (*media.ImportResult, error) {
				return importer.ImportDirectory(ctx, root, true)
			})
			done, err := queue.Wait(ctx, job.ID)
			if err != nil {
				return
			}
			if started {
				logger.Info().
					Str("path", root.Path()).
					Str("status", string(done.Status)).
					Str("summary", done.Summary).
					Msg("linked directory")
				break
			}
		}
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
