package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/pkg/backup"

	"go.uber.org/zap"
)

// RecordStore is the archive side of a snapshot: the memory repository.
type RecordStore interface {
	Snapshot() []*domain.CallRecord
	Restore(records []*domain.CallRecord) int
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// Scheduler periodically writes the in-memory call record archive to
// backup storage and prunes snapshots older than the retention.
type Scheduler struct {
	backupService *backup.BackupService
	store         RecordStore
	interval      time.Duration
	retention     time.Duration
	logger        *zap.SugaredLogger
	now           func() time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewScheduler(backupService *backup.BackupService, store RecordStore, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		store:         store,
		interval:      cfg.Interval,
		retention:     cfg.Retention,
		logger:        logger,
		now:           time.Now,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the snapshot loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the loop and writes a final snapshot.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
	s.runBackup(ctx)
}

func (s *Scheduler) runBackup(ctx context.Context) {
	name, count, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Errorw("failed to snapshot call records", "error", err)
		return
	}
	s.logger.Infow("call record snapshot written",
		"backup_name", name,
		"record_count", count,
	)

	if err := s.cleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old backups", "error", err)
	}
}

// Snapshot writes every archived record and returns the backup name and
// record count.
func (s *Scheduler) Snapshot(ctx context.Context) (string, int, error) {
	records := s.store.Snapshot()
	payload, err := json.Marshal(records)
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode records: %w", err)
	}

	name, err := s.backupService.CreateBackup(ctx, &backup.BackupData{
		Records: payload,
		Metadata: map[string]any{
			"record_count": len(records),
		},
	})
	if err != nil {
		return "", 0, err
	}
	return name, len(records), nil
}

// cleanupOldBackups removes backups older than the retention, always
// keeping the newest one.
func (s *Scheduler) cleanupOldBackups(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	backups, err := s.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	for i, name := range backups {
		if i == len(backups)-1 {
			break
		}
		ts, ok := backup.ParseBackupTime(name)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if err := s.backupService.DeleteBackup(ctx, name); err != nil {
			s.logger.Warnw("failed to delete old backup", "backup_name", name, "error", err)
			continue
		}
		s.logger.Debugw("deleted old backup", "backup_name", name)
	}
	return nil
}
