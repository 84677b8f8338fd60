package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/goran-ethernal/chain-dna/internal/config"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/internal/metastoretracker"
	"github.com/goran-ethernal/chain-dna/internal/metrics"
	"github.com/goran-ethernal/chain-dna/internal/storage/boltblob"
	"github.com/goran-ethernal/chain-dna/internal/storage/sqlmeta"
	"github.com/goran-ethernal/chain-dna/internal/streamserver"
	pkgconfig "github.com/goran-ethernal/chain-dna/pkg/config"
	"github.com/goran-ethernal/chain-dna/pkg/storagereader"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const banner = `
╔═══════════════════════════════════════════╗
║            chain-dna stream-server         ║
║   serves flushed segments to subscribers   ║
╚═══════════════════════════════════════════╝
`

var (
	configPath string
	bindAddr   string
	dataDir    string
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
	Use:   "stream-server",
	Short: "stream-server exposes flushed indexer data over HTTP diagnostics and in-process stream subscriptions",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (yaml/json/toml)")
	rootCmd.Flags().StringVar(&bindAddr, "bind-addr", "", "HTTP listen address (overrides config)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "directory holding blob/meta storage files (overrides config); must match the indexer-node writing them")
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

	tracker := metastoretracker.New(meta, metastoretracker.DefaultConfig(), log)

	reader := storagereader.New(blobs, tracker, storagereader.Config{
		SegmentSize: cfg.Segment.SegmentSize,
		GroupSize:   cfg.Segment.GroupSize,
	}, log)

	server := streamserver.New(streamserver.Config{BindAddr: cfg.Stream.BindAddr}, tracker, blobs, reader, log)
	if err := server.Start(ctx); err != nil {
		return &exitError{code: 2, err: fmt.Errorf("starting stream server: %w", err)}
	}
	defer server.Stop(context.Background())

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return tracker.Run(gctx) })

	log.Infow("stream-server running", "bind_addr", cfg.Stream.BindAddr, "data_dir", dataDir)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return &exitError{code: 2, err: err}
	}

	log.Info("stream-server stopped cleanly")
	return nil
}

// loadConfig reads configPath (if given), layers CLI flag overrides on
// top, then applies defaults and validates once.
func loadConfig() (*pkgconfig.Config, error) {
	cfg := &pkgconfig.Config{}
	if configPath != "" {
		loaded, err := config.LoadRawFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if bindAddr != "" {
		cfg.Stream.BindAddr = bindAddr
	}
	if dataDir != "" {
		cfg.Storage.BlobPath = filepath.Join(dataDir, "blobs.bolt")
		cfg.Storage.Meta.Path = filepath.Join(dataDir, "meta.sqlite")
	}

	// stream-server is meant to run against the same config.yaml deployed
	// to cmd/indexer-node (pkg/config.Config is the shared schema both
	// binaries load), so chain.kind/rpc_url are still required here even
	// though this process never dials a provider itself.
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
