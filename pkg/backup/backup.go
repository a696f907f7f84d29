package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

var ErrNoBackups = errors.New("no backups found")

const (
	namePrefix     = "backup-"
	nameSuffix     = ".json"
	timestampFmt   = "20060102-150405"
	currentVersion = "1"
)

// BackupData is the envelope written to storage. Records holds the
// caller's JSON-encoded payload.
type BackupData struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Records   json.RawMessage `json:"records"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BackupService handles backup operations
type BackupService struct {
	storage Storage
	now     func() time.Time
}

func NewBackupService(storage Storage) *BackupService {
	return &BackupService{
		storage: storage,
		now:     time.Now,
	}
}

// CreateBackup stamps data and saves it under a name derived from its UTC
// timestamp.
func (bs *BackupService) CreateBackup(ctx context.Context, data *BackupData) (string, error) {
	data.Version = currentVersion
	data.Timestamp = bs.now().UTC()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup data: %w", err)
	}

	name := namePrefix + data.Timestamp.Format(timestampFmt) + nameSuffix
	if err := bs.storage.Save(ctx, name, bytes.NewReader(jsonData)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// RestoreBackup loads and decodes a backup
func (bs *BackupService) RestoreBackup(ctx context.Context, name string) (*BackupData, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var data BackupData
	if err := json.NewDecoder(reader).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if data.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	return &data, nil
}

// ListBackups returns backup names, oldest first.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, name := range names {
		if _, ok := ParseBackupTime(name); ok {
			backups = append(backups, name)
		}
	}
	sort.Strings(backups)
	return backups, nil
}

// LatestBackup returns the newest backup name or ErrNoBackups.
func (bs *BackupService) LatestBackup(ctx context.Context) (string, error) {
	backups, err := bs.ListBackups(ctx)
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", ErrNoBackups
	}
	return backups[len(backups)-1], nil
}

// DeleteBackup deletes a backup
func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	return bs.storage.Delete(ctx, name)
}

// ParseBackupTime extracts the timestamp from a backup name.
func ParseBackupTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	t, err := time.Parse(timestampFmt, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
