package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/database"
	"github.com/aristath/foliosync/internal/modules/mirror"
)

// MirrorSnapshotJob writes a dated backup of the mirror document into the
// data directory. Snapshots are the recovery path when a bad remote edit
// slips through sync.
type MirrorSnapshotJob struct {
	mirror    *mirror.Repository
	backupDir string
	keep      int
	log       zerolog.Logger
}

// NewMirrorSnapshotJob creates the mirror snapshot job
func NewMirrorSnapshotJob(repo *mirror.Repository, backupDir string, keep int, log zerolog.Logger) *MirrorSnapshotJob {
	if keep < 1 {
		keep = 14
	}
	return &MirrorSnapshotJob{
		mirror:    repo,
		backupDir: backupDir,
		keep:      keep,
		log:       log.With().Str("job", "mirror_snapshot").Logger(),
	}
}

// Name returns the job name
func (j *MirrorSnapshotJob) Name() string { return "mirror_snapshot" }

// Run exports the mirror and writes a timestamped snapshot file.
func (j *MirrorSnapshotJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := j.mirror.Export()
	if err != nil {
		return fmt.Errorf("failed to export mirror: %w", err)
	}

	raw, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(j.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := fmt.Sprintf("trades-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	path := filepath.Join(j.backupDir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	j.log.Info().Str("path", path).Int("trades", len(doc.Trades)).Msg("Mirror snapshot written")

	return j.prune()
}

// prune deletes the oldest snapshots beyond the retention count.
func (j *MirrorSnapshotJob) prune() error {
	entries, err := filepath.Glob(filepath.Join(j.backupDir, "trades-*.json"))
	if err != nil {
		return err
	}
	if len(entries) <= j.keep {
		return nil
	}

	// Glob output is sorted; timestamped names sort oldest first.
	for _, path := range entries[:len(entries)-j.keep] {
		if err := os.Remove(path); err != nil {
			j.log.Warn().Err(err).Str("path", path).Msg("Failed to prune snapshot")
		}
	}
	return nil
}

// CompactTombstonesJob drops tombstones older than the retention window.
// They only need to outlive the reconciliation races they guard against.
type CompactTombstonesJob struct {
	mirror    *mirror.Repository
	retention time.Duration
	log       zerolog.Logger
}

// NewCompactTombstonesJob creates the tombstone compaction job
func NewCompactTombstonesJob(repo *mirror.Repository, retention time.Duration, log zerolog.Logger) *CompactTombstonesJob {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &CompactTombstonesJob{
		mirror:    repo,
		retention: retention,
		log:       log.With().Str("job", "compact_tombstones").Logger(),
	}
}

// Name returns the job name
func (j *CompactTombstonesJob) Name() string { return "compact_tombstones" }

// Run removes expired tombstones
func (j *CompactTombstonesJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed, err := j.mirror.CompactTombstones(j.retention)
	if err != nil {
		return fmt.Errorf("failed to compact tombstones: %w", err)
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Tombstones compacted")
	}
	return nil
}

// WALCheckpointJob checkpoints the WAL files so they do not grow unbounded
// on a long-running instance.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates the WAL checkpoint job
func NewWALCheckpointJob(log zerolog.Logger, dbs ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: dbs,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run checkpoints every database
func (j *WALCheckpointJob) Run(ctx context.Context) error {
	var firstErr error
	for _, db := range j.databases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpoint completed")
	}
	return firstErr
}

// HealthCheckJob runs integrity checks against the core databases.
type HealthCheckJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewHealthCheckJob creates the database health check job
func NewHealthCheckJob(log zerolog.Logger, dbs ...*database.DB) *HealthCheckJob {
	return &HealthCheckJob{
		databases: dbs,
		log:       log.With().Str("job", "health_check").Logger(),
	}
}

// Name returns the job name
func (j *HealthCheckJob) Name() string { return "health_check" }

// Run checks each database
func (j *HealthCheckJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var firstErr error
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
