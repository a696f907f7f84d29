package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"callscope/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	instanceKeyPrefix = "callscope:instance:"
	instancesSetKey   = "callscope:instances"
)

// InstanceRegistry advertises this process in Redis with a TTL-bound
// heartbeat so every instance can list its live peers.
type InstanceRegistry struct {
	client     redis.Cmdable
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewInstanceRegistry(client redis.Cmdable, instanceID string, ttl time.Duration, logger *zap.SugaredLogger) *InstanceRegistry {
	return &InstanceRegistry{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger,
		now:        time.Now,
	}
}

func (r *InstanceRegistry) instanceKey(id string) string {
	return instanceKeyPrefix + id
}

// Register stores info under this instance's key, refreshing its TTL.
func (r *InstanceRegistry) Register(ctx context.Context, info domain.InstanceInfo) error {
	info.InstanceID = r.instanceID
	info.LastSeen = r.now()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.instanceKey(r.instanceID), data, r.ttl)
	pipe.SAdd(ctx, instancesSetKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

// Run re-registers every interval using snapshot until ctx is done, then
// deregisters.
func (r *InstanceRegistry) Run(ctx context.Context, interval time.Duration, snapshot func() domain.InstanceInfo) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	heartbeat := func() {
		hbCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := r.Register(hbCtx, snapshot()); err != nil {
			r.logger.Warnw("instance heartbeat failed", "error", err)
		}
	}

	heartbeat()
	for {
		select {
		case <-ticker.C:
			heartbeat()
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := r.Deregister(cleanupCtx); err != nil {
				r.logger.Warnw("failed to deregister instance", "error", err)
			}
			cancel()
			return
		}
	}
}

func (r *InstanceRegistry) Deregister(ctx context.Context) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.instanceKey(r.instanceID))
	pipe.SRem(ctx, instancesSetKey, r.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}
	return nil
}

// Instances lists live instances ordered by id. Members whose heartbeat
// expired are pruned from the set.
func (r *InstanceRegistry) Instances(ctx context.Context) ([]domain.InstanceInfo, error) {
	ids, err := r.client.SMembers(ctx, instancesSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	if len(ids) == 0 {
		return []domain.InstanceInfo{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.instanceKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}

	instances := make([]domain.InstanceInfo, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var info domain.InstanceInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			r.logger.Warnw("invalid instance record", "instance_id", ids[i], "error", err)
			continue
		}
		instances = append(instances, info)
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, instancesSetKey, stale...).Err(); err != nil {
			r.logger.Debugw("failed to prune stale instances", "error", err)
		}
	}
	return instances, nil
}
