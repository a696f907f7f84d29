package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "callscope:record:"

// RedisCallRecordRepository stores each record as JSON under its session id
// and indexes it in a per-room sorted set scored by end time. A positive ttl
// expires records; index members whose record is gone are skipped on read.
type RedisCallRecordRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCallRecordRepository(client *redis.Client, ttl time.Duration) ports.CallRecordRepository {
	return &RedisCallRecordRepository{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisCallRecordRepository) recordKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisCallRecordRepository) roomKey(roomID domain.RoomID) string {
	return roomIndexKey(r.prefix, roomID)
}

func roomIndexKey(prefix string, roomID domain.RoomID) string {
	return prefix + "room:" + string(roomID)
}

func indexScore(record *domain.CallRecord) float64 {
	return float64(record.EndTime.UnixMilli())
}

func (r *RedisCallRecordRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(record.SessionID), data, r.ttl)
	pipe.ZAdd(ctx, r.roomKey(record.RoomID), redis.Z{
		Score:  indexScore(record),
		Member: string(record.SessionID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save call record in Redis: %w", err)
	}
	return nil
}

func (r *RedisCallRecordRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record from Redis: %w", err)
	}

	var record domain.CallRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	return &record, nil
}

// ListByRoom returns up to limit records of the room, most recently ended first.
func (r *RedisCallRecordRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, r.roomKey(roomID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room index from Redis: %w", err)
	}

	var records []*domain.CallRecord
	var stale []interface{}
	for _, id := range ids {
		record, err := r.GetByID(ctx, domain.SessionID(id))
		if errors.Is(err, domain.ErrRecordNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if len(stale) > 0 {
		// best effort; the next read retries
		r.client.ZRem(ctx, r.roomKey(roomID), stale...)
	}
	return records, nil
}
