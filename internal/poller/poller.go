// Package poller periodically re-fetches the latest page of every loaded
// conversation so that push deliveries missed by the stream are repaired.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultConcurrency = 4
)

// Fetcher reads the latest page of a conversation.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID, cursor string) (model.MessagePage, error)
}

// Sink decides what to poll and absorbs the results.
type Sink interface {
	// Targets lists conversations with loaded messages.
	Targets() []string
	// Merge folds a freshly fetched page into local state.
	Merge(conversationID string, page model.MessagePage)
	// Repair re-enters subscription setup for a polled conversation.
	Repair(ctx context.Context, conversationID string)
}

// Poller runs the reconciliation loop.
type Poller struct {
	fetcher     Fetcher
	sink        Sink
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. Zero interval or concurrency take the defaults.
func New(f Fetcher, sink Sink, interval time.Duration, concurrency int, m *metrics.Metrics, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:     f,
		sink:        sink,
		interval:    interval,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
	}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
					p.logger.Warn("reconciliation poll incomplete", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Tick polls every target once. Fetch failures do not stop the other
// conversations; they are returned joined so the caller can log them.
func (p *Poller) Tick(ctx context.Context) error {
	targets := p.sink.Targets()
	if len(targets) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, id := range targets {
		g.Go(func() error {
			p.sink.Repair(ctx, id)

			page, err := p.fetcher.ListMessages(ctx, id, "")
			p.metrics.ObservePoll(err)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("poll %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			p.sink.Merge(id, page)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("reconciliation poll finished",
		zap.Int("conversations", len(targets)),
		zap.Int("failures", len(errs)),
	)
	return errors.Join(errs...)
}
