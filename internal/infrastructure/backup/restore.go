package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"callscope/internal/core/domain"
	"callscope/pkg/backup"

	"go.uber.org/zap"
)

// RestoreLatest loads the newest snapshot into store and returns the number
// of records added. A missing snapshot is not an error.
func RestoreLatest(ctx context.Context, backupService *backup.BackupService, store RecordStore, logger *zap.SugaredLogger) (int, error) {
	name, err := backupService.LatestBackup(ctx)
	if errors.Is(err, backup.ErrNoBackups) {
		logger.Info("no call record snapshot to restore")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find latest backup: %w", err)
	}

	data, err := backupService.RestoreBackup(ctx, name)
	if err != nil {
		return 0, err
	}

	var records []*domain.CallRecord
	if err := json.Unmarshal(data.Records, &records); err != nil {
		return 0, fmt.Errorf("failed to decode records in %s: %w", name, err)
	}

	added := store.Restore(records)
	logger.Infow("restored call records",
		"backup_name", name,
		"record_count", len(records),
		"added", added,
	)
	return added, nil
}
