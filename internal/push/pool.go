package push

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/dispatchrelay/internal/config"
	"github.com/shohag/dispatchrelay/internal/metrics"
	"github.com/shohag/dispatchrelay/internal/storage"
)

// Pool drains the notification push outbox.
type Pool struct {
	store    storage.Storage
	worker   *Worker
	workers  int
	pollRate time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewPool(cfg config.PushConfig, store storage.Storage, m *metrics.Metrics, log zerolog.Logger) *Pool {
	sender := NewSender(cfg.GatewayURL, cfg.Secret, cfg.Timeout)

	schedule := cfg.RetrySchedule
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	pollRate := cfg.PollInterval
	if pollRate <= 0 {
		pollRate = time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	log = log.With().Str("component", "push").Logger()
	worker := NewWorker(store, sender, m, cfg.MaxAttempts, schedule, log)

	return &Pool{
		store:    store,
		worker:   worker,
		workers:  workers,
		pollRate: pollRate,
		log:      log,
		stop:     make(chan struct{}),
		inflight: make(map[int64]struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("starting push worker pool")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info().Msg("stopping push worker pool")
		close(p.stop)
	})
	p.wg.Wait()
	p.log.Info().Msg("push worker pool stopped")
}

func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollRate)
	defer ticker.Stop()

	sem := make(chan struct{}, p.workers)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.dispatch(ctx, sem)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, sem chan struct{}) {
	pending, err := p.store.GetPendingPushes(ctx, p.workers)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to fetch pending pushes")
		return
	}

	for _, n := range pending {
		if !p.claim(n.ID) {
			continue
		}
		n := n
		sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-sem }()
			defer p.release(n.ID)
			p.worker.Process(ctx, n)
		}()
	}
}

// claim keeps a notification that is still being pushed from being picked up
// by the next poll.
func (p *Pool) claim(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pool) release(id int64) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}
