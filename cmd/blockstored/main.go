package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelfs/blockstored/internal/config"
	"github.com/kestrelfs/blockstored/internal/evict"
	"github.com/kestrelfs/blockstored/internal/fileops"
	"github.com/kestrelfs/blockstored/internal/lock"
	"github.com/kestrelfs/blockstored/internal/meta"
	"github.com/kestrelfs/blockstored/internal/metrics"
	"github.com/kestrelfs/blockstored/internal/notify"
	"github.com/kestrelfs/blockstored/internal/store"
	"github.com/kestrelfs/blockstored/pkg/fsutil"
	"github.com/kestrelfs/blockstored/pkg/natsutil"
	"github.com/kestrelfs/blockstored/pkg/s3util"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("blockstored %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var nc *nats.Conn
	if cfg.Notify.NATS.Enabled {
		conn, err := natsutil.Connect(cfg.Notify.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer conn.Close()
		nc = conn
	}

	tiers, dirOps, s3Clients, err := buildTiers(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building storage tiers: %w", err)
	}

	metaManager := meta.NewManager(tiers)
	lockManager := lock.New(metaManager, logger.Named("lock"))
	lockManager.SetAcquireTimeout(cfg.Lock.AcquireTimeout.Duration())
	evictor := evict.NewLRU()

	st := store.New(metaManager, lockManager, evictor, dirOps, logger.Named("store"))
	st.AddListener(notify.NewLogListener(logger.Named("notify")))
	if nc != nil {
		st.AddListener(notify.NewNATSListener(nc, cfg.Notify.NATS.SubjectPrefix, logger.Named("notify")))
	}

	logger.Info("scanning disk for existing blocks")
	if err := st.ScanDisk(ctx); err != nil {
		return fmt.Errorf("scanning disk: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
		g.Go(func() error { return pollStats(gctx, st) })
	}

	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(nc, s3Clients)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("blockstored started",
		zap.String("version", version),
		zap.Int("tiers", len(tiers)),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// buildTiers constructs the StorageTier layout from config, along with the
// fileops.FileOps implementation backing each dir and the set of S3 clients
// created for "s3" backends, keyed by "<bucket>/<dir path>" for
// health-check labeling.
func buildTiers(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]*meta.StorageTier, map[*meta.StorageDir]fileops.FileOps, map[string]*s3util.Client, error) {
	tiers := make([]*meta.StorageTier, 0, len(cfg.Tiers))
	dirOps := make(map[*meta.StorageDir]fileops.FileOps)
	s3Clients := make(map[string]*s3util.Client)

	for _, tc := range cfg.Tiers {
		alias := meta.TierAlias(tc.Alias)
		dirs := make([]*meta.StorageDir, 0, len(tc.Dirs))

		for i, dc := range tc.Dirs {
			dir := meta.NewStorageDir(alias, i, dc.Path, int64(dc.CapacityBytes))

			switch dc.Backend {
			case "", "local":
				dirOps[dir] = fsutil.New()
			case "s3":
				client, err := s3util.NewClient(ctx, dc.Blob)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("creating S3 client for tier %d dir %d: %w", tc.Alias, i, err)
				}
				s3Clients[dc.Blob.Bucket+"/"+dc.Path] = client
				dirOps[dir] = fileops.NewBlob(client.S3, client.Bucket)
			default:
				return nil, nil, nil, fmt.Errorf("tier %d dir %d: unknown backend %q", tc.Alias, i, dc.Backend)
			}

			dirs = append(dirs, dir)
		}

		tiers = append(tiers, meta.NewStorageTier(alias, dirs))
		logger.Info("configured tier", zap.Int("alias", tc.Alias), zap.Int("dirs", len(dirs)))
	}

	return tiers, dirOps, s3Clients, nil
}

// pollStats periodically republishes Store.Stats()'s tier gauges so
// blockstored_tier_block_count/blockstored_tier_available_bytes stay
// current even on an otherwise idle store, and blocks until ctx is
// canceled.
func pollStats(ctx context.Context, st *store.Store) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st.Stats()
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
