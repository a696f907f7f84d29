package reliability

import (
	"context"
	"errors"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
	"callscope/pkg/circuitbreaker"
	"callscope/pkg/retry"
	"callscope/pkg/tracing"

	"go.uber.org/zap"
)

// ArchiveRepository wraps a CallRecordRepository with retries and a circuit
// breaker so that a struggling store does not stall session teardown.
type ArchiveRepository struct {
	repo    ports.CallRecordRepository
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewArchiveRepository(
	repo ports.CallRecordRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ArchiveRepository {
	w := &ArchiveRepository{
		repo:    repo,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}

	// Missing records and an open breaker are answers, not transient faults.
	retryConfig.NonRetryable = append(retryConfig.NonRetryable, domain.ErrRecordNotFound, circuitbreaker.ErrOpen)
	retryConfig.OnRetry = w.logRetry
	w.retry = retryConfig

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Archive circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *ArchiveRepository) logRetry(attempt int, err error, delay time.Duration) {
	w.logger.Warnw("Retrying call record operation",
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"error", err,
	)
}

func (w *ArchiveRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	ctx, span := tracing.TraceArchiveOperation(ctx, "save", string(record.SessionID))
	defer span.End()
	start := time.Now()
	defer tracing.MeasureDuration(ctx, start)

	err := retry.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			return w.repo.Save(ctx, record)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (w *ArchiveRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	ctx, span := tracing.TraceArchiveOperation(ctx, "get", string(id))
	defer span.End()

	var record *domain.CallRecord
	err := retry.Do(ctx, w.retry, func(ctx context.Context) error {
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			r, err := w.repo.GetByID(ctx, id)
			if errors.Is(err, domain.ErrRecordNotFound) {
				// A miss means the store answered.
				return nil
			}
			record = r
			return err
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrRecordNotFound
	}
	return record, nil
}

func (w *ArchiveRepository) ListByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.CallRecord, error) {
	ctx, span := tracing.TraceArchiveOperation(ctx, "list", "")
	defer span.End()
	span.SetAttributes(tracing.RoomIDKey.String(string(roomID)))

	records, err := retry.DoWithResult(ctx, w.retry, func(ctx context.Context) ([]*domain.CallRecord, error) {
		var out []*domain.CallRecord
		err := w.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = w.repo.ListByRoom(ctx, roomID, limit)
			return err
		})
		return out, err
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return records, err
}

// BreakerState reports the breaker position for health checks.
func (w *ArchiveRepository) BreakerState() circuitbreaker.State {
	return w.breaker.GetState()
}

var _ ports.CallRecordRepository = (*ArchiveRepository)(nil)
