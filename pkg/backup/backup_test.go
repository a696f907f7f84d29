package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*BackupService, string, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewBackupService(storage)
	svc.now = func() time.Time { return now }
	return svc, dir, &now
}

func TestBackupService_CreateAndRestore(t *testing.T) {
	svc, dir, _ := newService(t)
	ctx := context.Background()

	records, err := json.Marshal([]map[string]string{{"session_id": "room1-peerA"}})
	require.NoError(t, err)

	name, err := svc.CreateBackup(ctx, &BackupData{
		Records:  records,
		Metadata: map[string]any{"record_count": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "backup-20240301-120000.json", name)

	_, err = os.Stat(filepath.Join(dir, name))
	require.NoError(t, err)

	data, err := svc.RestoreBackup(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, currentVersion, data.Version)
	assert.JSONEq(t, string(records), string(data.Records))
	assert.EqualValues(t, 1, data.Metadata["record_count"])
}

func TestBackupService_ListAndLatest(t *testing.T) {
	svc, dir, now := newService(t)
	ctx := context.Background()

	_, err := svc.LatestBackup(ctx)
	assert.ErrorIs(t, err, ErrNoBackups)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateBackup(ctx, &BackupData{Records: json.RawMessage("[]")})
		require.NoError(t, err)
		*now = now.Add(time.Hour)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-garbage.json"), []byte("{}"), 0o644))

	backups, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"backup-20240301-120000.json",
		"backup-20240301-130000.json",
		"backup-20240301-140000.json",
	}, backups)

	latest, err := svc.LatestBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup-20240301-140000.json", latest)

	require.NoError(t, svc.DeleteBackup(ctx, latest))
	latest, err = svc.LatestBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup-20240301-130000.json", latest)
}

func TestBackupService_RestoreRejectsInvalid(t *testing.T) {
	svc, dir, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup-20240301-120000.json"), []byte(`{"records":[]}`), 0o644))
	_, err := svc.RestoreBackup(ctx, "backup-20240301-120000.json")
	assert.ErrorContains(t, err, "missing version")

	_, err = svc.RestoreBackup(ctx, "backup-20240101-000000.json")
	assert.Error(t, err)
}

func TestFileStorage_RejectsPathEscapes(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "../evil.json", "a/b.json", ".hidden"} {
		assert.Error(t, storage.Save(ctx, name, strings.NewReader("x")), name)
	}
}

func TestFileStorage_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)

	require.NoError(t, storage.Save(context.Background(), "backup-20240301-120000.json", strings.NewReader("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "backup-20240301-120000.json", entries[0].Name())
}

func TestParseBackupTime(t *testing.T) {
	ts, ok := ParseBackupTime("backup-20240301-120000.json")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), ts)

	_, ok = ParseBackupTime("backup-latest.json")
	assert.False(t, ok)
}
