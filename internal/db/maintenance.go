package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/chain-dna/internal/common"
	"github.com/goran-ethernal/chain-dna/internal/logger"
	"github.com/goran-ethernal/chain-dna/pkg/config"
)

// Maintenance keeps the checkpoint database compact. The metastore's write
// pattern is a steady stream of single-row UPDATEs — one per finality
// advance, one per segment flush, one per group flush — so the WAL grows
// in proportion to ingestion cadence even though the table never grows.
// Implementations checkpoint/vacuum on a timer and, when configured, after
// a threshold number of checkpoint writes.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// NoteCheckpointWrite records one durable checkpoint-row write. The
	// metastore calls this after every successful save so maintenance can
	// key off flush cadence instead of wall-clock time alone.
	NoteCheckpointWrite()
	// AcquireOperationLock takes a shared lock for a database operation;
	// the returned func releases it. Maintenance takes the exclusive side,
	// so in-flight operations finish before a checkpoint/vacuum starts.
	AcquireOperationLock() func()
	// Stats reports maintenance progress for diagnostics.
	Stats() Stats
	// RunMaintenance forces one maintenance pass now.
	RunMaintenance(ctx context.Context) error
}

// Stats is a point-in-time snapshot of maintenance progress.
type Stats struct {
	LastRun        time.Time
	Runs           uint64
	WritesSinceRun uint64
	LastErr        error
}

// NoOpMaintenance satisfies Maintenance without doing anything.
// NewMaintenanceCoordinator returns it for a nil config; a config with
// Enabled false still gets a MaintenanceCoordinator.
type NoOpMaintenance struct{}

func (*NoOpMaintenance) Start(ctx context.Context) error          { return nil }
func (*NoOpMaintenance) Stop() error                              { return nil }
func (*NoOpMaintenance) NoteCheckpointWrite()                     {}
func (*NoOpMaintenance) AcquireOperationLock() func()             { return func() {} }
func (*NoOpMaintenance) Stats() Stats                             { return Stats{} }
func (*NoOpMaintenance) RunMaintenance(ctx context.Context) error { return nil }

// MaintenanceCoordinator is the real Maintenance implementation: a
// background worker that wakes on a periodic tick or when enough
// checkpoint writes have accumulated, then WAL-checkpoints and (when the
// file is big enough to be worth it) vacuums under an exclusive lock.
type MaintenanceCoordinator struct {
	db     *sql.DB
	dbPath string
	cfg    config.MaintenanceConfig
	log    *logger.Logger

	// writes counts checkpoint-row writes since the last maintenance run;
	// writeKick wakes the worker once the configured threshold is crossed.
	writes    atomic.Uint64
	writeKick chan struct{}

	// opLock: shared side = metastore operations, exclusive side = a
	// maintenance pass.
	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastRun time.Time
	runs    uint64
	lastErr error
}

// NewMaintenanceCoordinator builds a Maintenance for the sqlite file at
// dbPath. A nil cfg disables maintenance entirely.
func NewMaintenanceCoordinator(dbPath string, db *sql.DB, cfg *config.MaintenanceConfig, log *logger.Logger) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{}
	}
	return &MaintenanceCoordinator{
		db:        db,
		dbPath:    dbPath,
		cfg:       *cfg,
		log:       log.WithComponent(common.ComponentMaintenance),
		writeKick: make(chan struct{}, 1),
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("checkpoint db maintenance disabled")
		return nil
	}

	var workerCtx context.Context
	workerCtx, m.cancel = context.WithCancel(ctx)

	if m.cfg.VacuumOnStartup {
		if err := m.run(workerCtx, "startup"); err != nil {
			m.log.Warnw("startup maintenance failed", "error", err)
		}
	}

	interval := m.cfg.CheckInterval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	m.wg.Add(1)
	go m.worker(workerCtx, interval)

	m.log.Infow("checkpoint db maintenance started",
		"interval", m.cfg.CheckInterval.Duration,
		"checkpoint_mode", m.cfg.WALCheckpointMode,
		"write_threshold", m.cfg.CheckpointWriteThreshold)
	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.log.Info("checkpoint db maintenance stopped")
	return nil
}

// NoteCheckpointWrite implements Maintenance. Crossing the configured
// write threshold wakes the worker without waiting for the next tick.
func (m *MaintenanceCoordinator) NoteCheckpointWrite() {
	n := m.writes.Add(1)
	CheckpointWritesPendingSet(n)
	if m.cfg.CheckpointWriteThreshold == 0 || n < m.cfg.CheckpointWriteThreshold {
		return
	}
	select {
	case m.writeKick <- struct{}{}:
	default:
	}
}

func (m *MaintenanceCoordinator) worker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		trigger := ""
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger = "interval"
		case <-m.writeKick:
			trigger = "write-threshold"
		}
		if err := m.run(ctx, trigger); err != nil {
			m.log.Warnw("maintenance pass failed", "trigger", trigger, "error", err)
		}
	}
}

// RunMaintenance implements Maintenance for manual invocation.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	return m.run(ctx, "manual")
}

// run executes one maintenance pass under the exclusive lock: WAL
// checkpoint, then VACUUM if the file is big enough for it to pay off.
func (m *MaintenanceCoordinator) run(ctx context.Context, trigger string) error {
	start := time.Now().UTC()
	MaintenanceTriggerInc(trigger)

	m.opLock.Lock()
	defer m.opLock.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sizeBefore, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to stat checkpoint db", "error", err)
	}

	var passErr error
	if err := m.walCheckpoint(); err != nil {
		passErr = fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := m.vacuumIfWorthwhile(sizeBefore); err != nil && passErr == nil {
		passErr = fmt.Errorf("vacuum: %w", err)
	}

	sizeAfter, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnw("failed to stat checkpoint db", "error", err)
	}

	m.writes.Store(0)
	CheckpointWritesPendingSet(0)

	m.mu.Lock()
	m.lastRun = time.Now().UTC()
	m.runs++
	m.lastErr = passErr
	m.mu.Unlock()

	duration := time.Since(start)
	MaintenanceDurationLog(duration)
	MaintenanceLastRunLog()
	DBSizeLog(sizeAfter)

	if passErr != nil {
		MaintenanceErrorInc()
		return passErr
	}
	MaintenanceSuccessInc()

	if sizeBefore > sizeAfter {
		reclaimed := uint64(sizeBefore - sizeAfter)
		MaintenanceSpaceReclaimedLog(reclaimed)
		m.log.Infow("maintenance pass complete", "trigger", trigger,
			"duration", duration, "reclaimed_mb", common.BytesToMB(reclaimed))
	} else {
		m.log.Debugw("maintenance pass complete", "trigger", trigger, "duration", duration)
	}
	return nil
}

// walCheckpoint merges the WAL back into the main file using the
// configured checkpoint mode. A no-op outside WAL journal mode.
func (m *MaintenanceCoordinator) walCheckpoint() error {
	isWAL, err := isWALMode(m.db)
	if err != nil {
		return fmt.Errorf("checking journal mode: %w", err)
	}
	if !isWAL {
		return nil
	}

	var busy, logFrames, checkpointed int
	row := m.db.QueryRow(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.cfg.WALCheckpointMode))
	if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
		return err
	}
	WALCheckpointInc(strings.ToLower(m.cfg.WALCheckpointMode))

	if busy > 0 {
		m.log.Warnw("wal checkpoint left busy pages", "busy", busy,
			"log_frames", logFrames, "checkpointed", checkpointed)
	}
	return nil
}

// vacuumIfWorthwhile vacuums only once the file has grown past the
// configured floor. A checkpoint database holds a single row; below the
// floor there is nothing meaningful to compact and the exclusive-access
// cost of VACUUM isn't justified.
func (m *MaintenanceCoordinator) vacuumIfWorthwhile(totalSize int64) error {
	floor := common.MBToBytes(m.cfg.VacuumMinSizeMB)
	if totalSize >= 0 && uint64(totalSize) < floor {
		return nil
	}

	if _, err := m.db.Exec("VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("database is locked, retrying on next pass")
		}
		return err
	}
	VacuumRunsInc()
	return nil
}

// AcquireOperationLock implements Maintenance.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// Stats implements Maintenance.
func (m *MaintenanceCoordinator) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		LastRun:        m.lastRun,
		Runs:           m.runs,
		WritesSinceRun: m.writes.Load(),
		LastErr:        m.lastErr,
	}
}
