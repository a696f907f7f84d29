package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"callscope/internal/core/domain"
	"callscope/pkg/batch"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultChannel = "callscope:events"

	defaultBatchSize     = 64
	defaultBatchInterval = 50 * time.Millisecond
	publishTimeout       = 2 * time.Second
)

// RemoteEvent is an analytics event as published by another instance. The
// payload is kept as raw JSON.
type RemoteEvent struct {
	Name       domain.EventName `json:"name"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	SessionID  domain.SessionID `json:"session_id,omitempty"`
	RoomID     domain.RoomID    `json:"room_id,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// EventForwarder mirrors local bus events onto a Redis channel so dashboards
// attached to any instance see the whole cluster. Outgoing events are
// batched into pipelined PUBLISH commands.
type EventForwarder struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	batcher    *batch.Batcher[[]byte]
}

func NewEventForwarder(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventForwarder {
	if channel == "" {
		channel = DefaultChannel
	}
	f := &EventForwarder{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
	f.batcher = batch.NewBatcher(defaultBatchSize, defaultBatchInterval, f.publishBatch, func(err error, dropped int) {
		f.logger.Warnw("failed to forward events",
			"dropped", dropped,
			"error", err,
		)
	})
	return f
}

// HandleEvent is subscribed to the local bus. It only encodes and queues
// the event, so it never blocks on Redis.
func (f *EventForwarder) HandleEvent(ev domain.Event) {
	data, err := f.encode(ev)
	if err != nil {
		f.logger.Warnw("failed to encode event",
			"event", ev.Name,
			"error", err,
		)
		return
	}
	f.batcher.Add(data)
}

// Publish sends a single event immediately, bypassing the batch.
func (f *EventForwarder) Publish(ctx context.Context, ev domain.Event) error {
	data, err := f.encode(ev)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (f *EventForwarder) publishBatch(ctx context.Context, frames [][]byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pipe := f.client.Pipeline()
	for _, frame := range frames {
		pipe.Publish(ctx, f.channel, frame)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(frames), err)
	}
	return nil
}

// Close flushes queued events. Call it before closing the Redis client.
func (f *EventForwarder) Close() {
	f.batcher.Stop()
}

func (f *EventForwarder) encode(ev domain.Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	data, err := json.Marshal(RemoteEvent{
		Name:       ev.Name,
		InstanceID: f.instanceID,
		Timestamp:  ev.Timestamp,
		SessionID:  ev.SessionID,
		RoomID:     ev.RoomID,
		Payload:    payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// decode parses a channel message. Events published by this instance are
// reported as not ok.
func (f *EventForwarder) decode(raw string) (*RemoteEvent, bool) {
	var ev RemoteEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		f.logger.Warnw("failed to unmarshal event",
			"error", err,
			"payload", raw,
		)
		return nil, false
	}
	if ev.InstanceID == f.instanceID {
		return nil, false
	}
	return &ev, true
}

// Run delivers events from other instances to handler until ctx is done.
func (f *EventForwarder) Run(ctx context.Context, handler func(*RemoteEvent)) error {
	pubsub := f.client.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if ev, ok := f.decode(msg.Payload); ok {
				handler(ev)
			}
		}
	}
}
