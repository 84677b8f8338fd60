package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/config"
	"github.com/goran-ethernal/chain-dna/internal/db"
	"github.com/goran-ethernal/chain-dna/internal/evmprovider"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/internal/starknetprovider"
	"github.com/goran-ethernal/chain-dna/internal/storage/boltblob"
	"github.com/goran-ethernal/chain-dna/internal/storage/sqlmeta"
	"github.com/goran-ethernal/chain-dna/internal/types"
	"github.com/goran-ethernal/chain-dna/pkg/chainkind"
	"github.com/goran-ethernal/chain-dna/pkg/chaintracker"
	pkgconfig "github.com/goran-ethernal/chain-dna/pkg/config"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/ingestion"
	"github.com/goran-ethernal/chain-dna/pkg/ingestmsg"
	"github.com/goran-ethernal/chain-dna/pkg/metastore"
	"github.com/goran-ethernal/chain-dna/pkg/provider"
	"github.com/goran-ethernal/chain-dna/pkg/segment"
	"github.com/goran-ethernal/chain-dna/pkg/segmentgroup"
	"github.com/goran-ethernal/chain-dna/pkg/segmentpipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const banner = `
╔═══════════════════════════════════════════╗
║            chain-dna indexer-node          ║
║   follows a chain, writes finalized data   ║
╚═══════════════════════════════════════════╝
`

var (
	configPath     string
	rpcURL         string
	rpcRateLimit   float64
	rpcConcurrency int
	dataDir        string
	startingBlock  string
	chainKind      string
)

// exitError carries the process exit code a failure should produce:
// 0 clean shutdown, 1 configuration error, 2 fatal runtime.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer-node",
	Short: "indexer-node follows a chain and writes finalized segments/groups",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (yaml/json/toml)")
	rootCmd.Flags().StringVar(&rpcURL, "rpc-url", "", "chain RPC endpoint (overrides config)")
	rootCmd.Flags().Float64Var(&rpcRateLimit, "rpc-rate-limit", 0, "max provider fetches per second (overrides config)")
	rootCmd.Flags().IntVar(&rpcConcurrency, "rpc-concurrency", 0, "max in-flight provider fetches (overrides config)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding blob/meta storage files (overrides config)")
	rootCmd.Flags().StringVar(&startingBlock, "starting-block", "", "block number, decimal or 0x-hex, to start from on a cold start (overrides config)")
	rootCmd.Flags().StringVar(&chainKind, "chain", "", "chain kind: evm or starknet (overrides config)")
}

func run(cmd *cobra.Command, args []string) error {
	fmt.Print(banner)

	cfg, err := loadConfig()
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("loading config: %w", err)}
	}

	log, err := logger.NewLogger("info", false)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("building logger: %w", err)}
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down gracefully")
		cancel()
	}()

	metricsServer := metrics.NewServer(metrics.ServerConfig{
		Enabled:       cfg.Metrics.Enabled,
		ListenAddress: cfg.Metrics.ListenAddress,
		Path:          cfg.Metrics.Path,
	})
	if err := metricsServer.Start(ctx); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("starting metrics server: %w", err)}
	}
	defer metricsServer.Stop(context.Background())

	blobs, err := boltblob.Open(cfg.Storage.BlobPath, log)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer blobs.Close()

	meta, err := sqlmeta.Open(cfg.Storage.Meta, log)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer meta.Close()

	metaDB, err := db.NewSQLiteDBFromConfig(cfg.Storage.Meta)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer metaDB.Close()

	maintenanceCfg := cfg.Storage.Meta.Maintenance
	maintenance := db.NewMaintenanceCoordinator(cfg.Storage.Meta.Path, metaDB, &maintenanceCfg, log)
	if err := maintenance.Start(ctx); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("starting maintenance coordinator: %w", err)}
	}
	defer maintenance.Stop()
	meta.ObserveWrites(maintenance)

	chainProvider, closeProvider, err := buildProvider(ctx, cfg)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer closeProvider()

	ingestor := ingestion.New(chainProvider, ingestion.Config{
		Concurrency: int64(cfg.Chain.RPCConcurrency),
		RateLimit:   cfg.Chain.RPCRateLimit,
	})

	hub := ingestmsg.NewHub()
	tracker := chaintracker.New(chainProvider, ingestor, meta, hub, log, chaintracker.Config{
		ChainName: cfg.Chain.Kind.String(),
		Retry:     retryConfig(cfg),
	})

	checkpoint, err := meta.LoadCheckpoint(ctx)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("loading checkpoint: %w", err)}
	}
	segStart, groupStart := startBlocks(checkpoint, cfg)

	segBuilder := segment.New(blobs, meta, segment.Config{
		SegmentSize: cfg.Segment.SegmentSize,
		StartBlock:  segStart,
	}, log)
	groupBuilder := segmentgroup.New(blobs, meta, segmentgroup.Config{
		SegmentSize: cfg.Segment.SegmentSize,
		GroupSize:   cfg.Segment.GroupSize,
		StartBlock:  groupStart,
	}, log)
	feeder := segmentpipeline.New(tracker, segBuilder, groupBuilder, segStart, log)

	var startFrom *cursor.Cursor
	if checkpoint.AcceptedCursor.IsOpen() && cfg.Chain.StartingBlock > 0 {
		c := cursor.AtHeight(cfg.Chain.StartingBlock)
		startFrom = &c
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return tracker.Run(gctx, startFrom) })
	group.Go(func() error { return feeder.Run(gctx) })

	log.Infow("indexer-node running", "chain", cfg.Chain.Kind, "rpc_url", cfg.Chain.RPCURL,
		"segment_size", cfg.Segment.SegmentSize, "group_size", cfg.Segment.GroupSize)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return &exitError{code: 2, err: err}
	}

	log.Info("indexer-node stopped cleanly")
	return nil
}

// startBlocks resolves the resume point for the segment/group builders: one
// past the last durably flushed artifact of each kind, or the configured
// starting block on a genuinely cold start.
func startBlocks(checkpoint metastore.Checkpoint, cfg *pkgconfig.Config) (segStart, groupStart uint64) {
	segStart = cfg.Chain.StartingBlock
	if checkpoint.HasLastSegment {
		segStart = checkpoint.LastFlushedSegment + uint64(cfg.Segment.SegmentSize)
	}
	groupStart = cfg.Chain.StartingBlock
	if checkpoint.HasLastGroup {
		groupStart = checkpoint.LastFlushedGroup + uint64(cfg.Segment.SegmentSize)*uint64(cfg.Segment.GroupSize)
	}
	return segStart, groupStart
}

func retryConfig(cfg *pkgconfig.Config) provider.BackoffConfig {
	return provider.BackoffConfig{
		InitialInterval: cfg.Chain.Retry.InitialInterval.Duration,
		MaxInterval:     cfg.Chain.Retry.MaxInterval.Duration,
		Multiplier:      cfg.Chain.Retry.Multiplier,
		MaxElapsedTime:  cfg.Chain.Retry.MaxElapsedTime.Duration,
	}
}

// buildProvider dials the configured chain kind's ChainProvider and returns
// a close func that releases its underlying connection (a no-op for
// starknet, whose HTTPGateway holds no persistent connection).
func buildProvider(ctx context.Context, cfg *pkgconfig.Config) (provider.ChainProvider, func(), error) {
	retry := retryConfig(cfg)

	switch cfg.Chain.Kind {
	case chainkind.Evm:
		finality, err := types.ParseBlockFinality(cfg.Chain.Finality)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving finality: %w", err)
		}
		p, err := evmprovider.Dial(ctx, cfg.Chain.RPCURL, evmprovider.Config{Finality: finality, Retry: retry})
		if err != nil {
			return nil, nil, fmt.Errorf("dialing evm provider: %w", err)
		}
		return p, p.Close, nil
	case chainkind.Starknet:
		gateway := starknetprovider.NewHTTPGateway(cfg.Chain.RPCURL)
		p := starknetprovider.New(gateway, starknetprovider.Config{
			Retry:             retry,
			ConfirmationDepth: cfg.Chain.FinalizedLag,
		})
		return p, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported chain kind %q", cfg.Chain.Kind)
	}
}

// loadConfig reads configPath (if given), layers CLI flag overrides on
// top, then applies defaults and validates once — so a flag can supply a
// value an incomplete config file omits.
func loadConfig() (*pkgconfig.Config, error) {
	cfg := &pkgconfig.Config{}
	if configPath != "" {
		loaded, err := config.LoadRawFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if rpcURL != "" {
		cfg.Chain.RPCURL = rpcURL
	}
	if rpcRateLimit > 0 {
		cfg.Chain.RPCRateLimit = rpcRateLimit
	}
	if rpcConcurrency > 0 {
		cfg.Chain.RPCConcurrency = rpcConcurrency
	}
	if chainKind != "" {
		cfg.Chain.Kind = chainkind.Kind(common.ToLowerWithTrim(chainKind))
	}
	if startingBlock != "" {
		n, err := common.ParseBlockNumber(startingBlock)
		if err != nil {
			return nil, fmt.Errorf("--starting-block: %w", err)
		}
		cfg.Chain.StartingBlock = n
	}
	if dataDir != "" {
		cfg.Storage.BlobPath = filepath.Join(dataDir, "blobs.bolt")
		cfg.Storage.Meta.Path = filepath.Join(dataDir, "meta.sqlite")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
