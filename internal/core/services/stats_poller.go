package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/core/ports"
)

// statsPoller queries one endpoint on a fixed interval. It stops on the first
// failed query, on stop, or when its parent context is cancelled.
type statsPoller struct {
	source   ports.StatSource
	interval time.Duration
	handle   func([]domain.StatSample)
	onError  func(error)

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newStatsPoller(source ports.StatSource, interval time.Duration, handle func([]domain.StatSample), onError func(error)) *statsPoller {
	return &statsPoller{
		source:   source,
		interval: interval,
		handle:   handle,
		onError:  onError,
		done:     make(chan struct{}),
	}
}

func (p *statsPoller) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	go p.run(ctx)
}

func (p *statsPoller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				if p.onError != nil {
					p.onError(err)
				}
				return
			}
		}
	}
}

func (p *statsPoller) poll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stats handler panic: %v", r)
		}
	}()

	samples, err := p.source.GetStats(ctx)
	if err != nil {
		return err
	}
	p.handle(samples)
	return nil
}

func (p *statsPoller) stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// stopped is closed once the polling goroutine has exited.
func (p *statsPoller) stopped() <-chan struct{} {
	return p.done
}
