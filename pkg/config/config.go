// Package config defines the on-disk configuration shape shared by both
// binaries (cmd/indexer-node, cmd/stream-server).
package config

import (
	"fmt"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/types"
	"github.com/goran-ethernal/chain-dna/pkg/chainkind"
)

// Config is the root configuration loaded from YAML/JSON/TOML.
type Config struct {
	Chain   ChainConfig   `yaml:"chain" json:"chain" toml:"chain"`
	Segment SegmentConfig `yaml:"segment" json:"segment" toml:"segment"`
	Storage StorageConfig `yaml:"storage" json:"storage" toml:"storage"`
	Stream  StreamConfig  `yaml:"stream" json:"stream" toml:"stream"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	Path          string `yaml:"path" json:"path" toml:"path"`
}

// RetryConfig parameterizes the exponential backoff used by provider
// calls, mirrored onto github.com/cenkalti/backoff/v4.ExponentialBackOff.
type RetryConfig struct {
	InitialInterval common.Duration `yaml:"initial_interval" json:"initial_interval" toml:"initial_interval"`
	MaxInterval     common.Duration `yaml:"max_interval" json:"max_interval" toml:"max_interval"`
	Multiplier      float64         `yaml:"multiplier" json:"multiplier" toml:"multiplier"`
	MaxElapsedTime  common.Duration `yaml:"max_elapsed_time" json:"max_elapsed_time" toml:"max_elapsed_time"`
}

// ChainConfig describes the chain being ingested and how to reach its
// provider.
type ChainConfig struct {
	Kind           chainkind.Kind `yaml:"kind" json:"kind" toml:"kind"`
	RPCURL         string         `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`
	RPCRateLimit   float64        `yaml:"rpc_rate_limit" json:"rpc_rate_limit" toml:"rpc_rate_limit"`
	RPCConcurrency int            `yaml:"rpc_concurrency" json:"rpc_concurrency" toml:"rpc_concurrency"`
	StartingBlock  uint64         `yaml:"starting_block" json:"starting_block" toml:"starting_block"`
	// Finality selects the RPC tag an EVM provider treats as the
	// finalized head: "finalized" (default), "safe", or "latest".
	// Ignored for chains whose provider has no finality tags.
	Finality     string      `yaml:"finality" json:"finality" toml:"finality"`
	FinalizedLag uint64      `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`
	Retry        RetryConfig `yaml:"retry" json:"retry" toml:"retry"`
}

// SegmentConfig tunes segment/group sizing.
type SegmentConfig struct {
	SegmentSize uint32 `yaml:"segment_size" json:"segment_size" toml:"segment_size"`
	GroupSize   uint32 `yaml:"group_size" json:"group_size" toml:"group_size"`
}

// DatabaseConfig holds the sqlite connection tuning knobs for MetaStore.
type DatabaseConfig struct {
	Path                string `yaml:"path" json:"path" toml:"path"`
	JournalMode         string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`
	Synchronous         string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`
	BusyTimeout         int    `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`
	CacheSize           int    `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
	MaxOpenConnections  int    `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`
	MaxIdleConnections  int    `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`
	EnableForeignKeys   bool   `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`

	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance" toml:"maintenance"`
}

// MaintenanceConfig tunes the background VACUUM/WAL-checkpoint
// coordinator that keeps the MetaStore sqlite file compact as finality
// checkpoints accumulate.
type MaintenanceConfig struct {
	Enabled           bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	VacuumOnStartup   bool            `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`
	CheckInterval     common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`
	WALCheckpointMode string          `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
	// CheckpointWriteThreshold runs a maintenance pass once this many
	// checkpoint-row writes have accumulated since the previous pass,
	// tying WAL compaction to segment/group flush cadence instead of
	// wall-clock time alone. ApplyDefaults replaces 0 with 4096; a
	// coordinator handed 0 directly has no write-driven trigger.
	CheckpointWriteThreshold uint64 `yaml:"checkpoint_write_threshold" json:"checkpoint_write_threshold" toml:"checkpoint_write_threshold"`
	// VacuumMinSizeMB skips VACUUM while the database (main file plus
	// WAL) is below this size.
	VacuumMinSizeMB uint64 `yaml:"vacuum_min_size_mb" json:"vacuum_min_size_mb" toml:"vacuum_min_size_mb"`
}

// ApplyDefaults fills unset DatabaseConfig fields with production
// defaults.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.Maintenance.CheckInterval.Duration == 0 {
		d.Maintenance.CheckInterval = common.NewDuration(time.Hour)
	}
	if d.Maintenance.WALCheckpointMode == "" {
		d.Maintenance.WALCheckpointMode = "PASSIVE"
	}
	if d.Maintenance.CheckpointWriteThreshold == 0 {
		d.Maintenance.CheckpointWriteThreshold = 4096
	}
	if d.Maintenance.VacuumMinSizeMB == 0 {
		d.Maintenance.VacuumMinSizeMB = 16
	}
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// StorageConfig configures the BlobStore (bbolt file) and MetaStore
// (sqlite file) backends.
type StorageConfig struct {
	BlobPath string         `yaml:"blob_path" json:"blob_path" toml:"blob_path"`
	Meta     DatabaseConfig `yaml:"meta" json:"meta" toml:"meta"`
}

// StreamConfig configures the diagnostic/subscription server.
type StreamConfig struct {
	BindAddr         string `yaml:"bind_addr" json:"bind_addr" toml:"bind_addr"`
	DefaultBatchSize uint32 `yaml:"default_batch_size" json:"default_batch_size" toml:"default_batch_size"`
}

// ApplyDefaults fills unset fields with their production defaults.
func (c *Config) ApplyDefaults() {
	if c.Chain.RPCRateLimit == 0 {
		c.Chain.RPCRateLimit = 20.0
	}
	if c.Chain.RPCConcurrency == 0 {
		c.Chain.RPCConcurrency = 8
	}
	if c.Chain.FinalizedLag == 0 {
		c.Chain.FinalizedLag = 10
	}
	if c.Chain.Retry.InitialInterval.Duration == 0 {
		c.Chain.Retry.InitialInterval = common.NewDuration(defaultInitialInterval)
	}
	if c.Chain.Retry.MaxInterval.Duration == 0 {
		c.Chain.Retry.MaxInterval = common.NewDuration(defaultMaxInterval)
	}
	if c.Chain.Retry.Multiplier == 0 {
		c.Chain.Retry.Multiplier = 2.0
	}
	if c.Chain.Retry.MaxElapsedTime.Duration == 0 {
		c.Chain.Retry.MaxElapsedTime = common.NewDuration(defaultMaxElapsedTime)
	}

	if c.Segment.SegmentSize == 0 {
		c.Segment.SegmentSize = 1000
	}
	if c.Segment.GroupSize == 0 {
		c.Segment.GroupSize = 10
	}

	c.Storage.Meta.ApplyDefaults()

	if c.Stream.BindAddr == "" {
		c.Stream.BindAddr = ":7171"
	}
	if c.Stream.DefaultBatchSize == 0 {
		c.Stream.DefaultBatchSize = 100
	}

	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

const (
	defaultInitialInterval = 10 * time.Second
	defaultMaxInterval     = time.Minute
	defaultMaxElapsedTime  = 5 * time.Minute
)

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Chain.Kind == "" {
		return fmt.Errorf("chain.kind is required (%s or %s)", chainkind.Evm, chainkind.Starknet)
	}
	if !c.Chain.Kind.IsValid() {
		return fmt.Errorf("chain.kind must be %s or %s, got %q", chainkind.Evm, chainkind.Starknet, c.Chain.Kind)
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}

	if _, err := types.ParseBlockFinality(c.Chain.Finality); err != nil {
		return fmt.Errorf("chain.finality: %w", err)
	}

	if c.Segment.SegmentSize == 0 {
		return fmt.Errorf("segment.segment_size must be greater than zero")
	}
	if c.Segment.GroupSize == 0 {
		return fmt.Errorf("segment.group_size must be greater than zero")
	}

	if c.Storage.BlobPath == "" {
		return fmt.Errorf("storage.blob_path is required")
	}
	if c.Storage.Meta.Path == "" {
		return fmt.Errorf("storage.meta.path is required")
	}

	if c.Stream.BindAddr == "" {
		return fmt.Errorf("stream.bind_addr is required")
	}

	return nil
}
