package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"callscope/internal/core/domain"
	"callscope/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "callscope:schema:version"
	schemaLockKey        = "callscope:schema:lock"
	currentSchemaVersion = 1

	migrationLockTTL     = 30 * time.Second
	migrationLockTimeout = time.Minute
)

type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version. The
// run holds a cluster-wide lock so instances starting together migrate once.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	return distributed.WithLock(ctx, client, schemaLockKey, migrationLockTTL, migrationLockTimeout,
		func(ctx context.Context) error {
			return migrate(ctx, client, logger)
		})
}

func migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if currentVersion >= currentSchemaVersion {
		logger.Debugw("schema is up to date",
			"current_version", currentVersion,
		)
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		logger.Infow("running migration",
			"version", migration.Version,
			"name", migration.Name,
		)
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func getMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "index_records_by_room", Up: indexRecordsByRoom},
	}
}

// indexRecordsByRoom builds the per-room sorted sets for records written
// before the index existed.
func indexRecordsByRoom(ctx context.Context, client *redis.Client) error {
	iter := client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasPrefix(key, roomIndexKey(keyPrefix, "")) {
			continue
		}
		data, err := client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return err
		}

		var record domain.CallRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil || record.SessionID == "" {
			continue
		}
		if err := client.ZAdd(ctx, roomIndexKey(keyPrefix, record.RoomID), redis.Z{
			Score:  indexScore(&record),
			Member: string(record.SessionID),
		}).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
