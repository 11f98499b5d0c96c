package producer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/internal/util"
	"github.com/teranos/factwire/logger"
)

// DefaultBaseBackoff is the first retry delay after a failed poll
const DefaultBaseBackoff = time.Second

// Schedule controls when a producer is polled
type Schedule struct {
	Interval      time.Duration // Time between successful polls
	Jitter        time.Duration // Random extra delay before each poll, up to this much
	RatePerMinute int           // Poll rate ceiling, 0 = unlimited
	MaxBackoff    time.Duration // Retry delay ceiling after failures (default util.MaxBackoff)
}

// AgentStats reports one producer's activity
type AgentStats struct {
	Name                string        `json:"name"`
	Interval            time.Duration `json:"interval"`
	Running             bool          `json:"running"`
	Idle                bool          `json:"idle"`
	Checks              uint64        `json:"checks"`
	UpdatesFound        uint64        `json:"updates_found"`
	Errors              uint64        `json:"errors"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCheck           *time.Time    `json:"last_check,omitempty"`
	LastUpdate          *time.Time    `json:"last_update,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

type agent struct {
	producer Producer
	schedule Schedule
	limiter  *rate.Limiter

	mu    sync.Mutex
	stats AgentStats
}

func (a *agent) snapshot() AgentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.stats
	if st.LastCheck != nil {
		t := *st.LastCheck
		st.LastCheck = &t
	}
	if st.LastUpdate != nil {
		t := *st.LastUpdate
		st.LastUpdate = &t
	}
	return st
}

// Scheduler runs one goroutine per producer. Producers share nothing; the
// only common resource is the submit function.
type Scheduler struct {
	submit      SubmitFunc
	baseBackoff time.Duration
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu      sync.Mutex
	agents  []*agent
	names   map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the scheduler logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBaseBackoff sets the first retry delay after a failed poll
func WithBaseBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.baseBackoff = d
		}
	}
}

// NewScheduler creates a scheduler that hands candidates to submit
func NewScheduler(submit SubmitFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		submit:      submit,
		baseBackoff: DefaultBaseBackoff,
		logger:      zap.NewNop().Sugar(),
		now:         time.Now,
		names:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a producer. Producers added after Start begin immediately.
func (s *Scheduler) Add(p Producer, cfg Schedule) error {
	if p == nil {
		return errors.NewInvalidRequestError("producer is nil")
	}
	if cfg.Interval <= 0 {
		return errors.NewInvalidRequestError("producer %s: interval must be > 0, got %s", p.Name(), cfg.Interval)
	}
	if cfg.RatePerMinute < 0 {
		return errors.NewInvalidRequestError("producer %s: rate_per_minute must be >= 0", p.Name())
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = util.MaxBackoff
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.names[p.Name()]; dup {
		return errors.Wrapf(errors.ErrConflict, "producer %s already registered", p.Name())
	}
	a := &agent{
		producer: p,
		schedule: cfg,
		limiter:  rate.NewLimiter(limit, 1),
		stats:    AgentStats{Name: p.Name(), Interval: cfg.Interval},
	}
	if i, ok := p.(Idler); ok && i.Idle() {
		a.stats.Idle = true
	}
	s.names[p.Name()] = struct{}{}
	s.agents = append(s.agents, a)

	if s.running {
		s.launch(a)
	}
	return nil
}

// Start launches every registered producer. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, a := range s.agents {
		s.launch(a)
	}
	s.logger.Infow("Producer scheduler started", logger.FieldCount, len(s.agents))
}

// Stop cancels every loop and waits for them to exit. A submit already in
// flight still completes its mutation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infow("Producer scheduler stopped")
}

// Stats returns a snapshot per producer, in registration order
func (s *Scheduler) Stats() []AgentStats {
	s.mu.Lock()
	agents := make([]*agent, len(s.agents))
	copy(agents, s.agents)
	s.mu.Unlock()

	out := make([]AgentStats, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.snapshot())
	}
	return out
}

// launch must be called with s.mu held
func (s *Scheduler) launch(a *agent) {
	a.mu.Lock()
	idle := a.stats.Idle
	a.stats.Running = !idle
	a.mu.Unlock()
	if idle {
		return
	}

	s.wg.Add(1)
	go s.run(s.ctx, a)

	if w, ok := a.producer.(Watcher); ok {
		s.wg.Add(1)
		go s.watch(s.ctx, a, w)
	}
}

// run polls once immediately, then every Interval. A failed poll is retried
// with exponential backoff instead of waiting for the next tick.
func (s *Scheduler) run(ctx context.Context, a *agent) {
	defer s.wg.Done()
	defer func() {
		a.mu.Lock()
		a.stats.Running = false
		a.mu.Unlock()
	}()

	ctx = logger.WithProducer(ctx, a.producer.Name())
	log := logger.FromContext(ctx, s.logger)

	ticker := time.NewTicker(a.schedule.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		if !sleep(ctx, jitter(a.schedule.Jitter)) {
			return
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return
		}

		err := s.pollOnce(ctx, a)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			wait := util.CalculateBackoffCapped(s.baseBackoff, failures, a.schedule.MaxBackoff)
			log.Warnw("Producer poll failed",
				logger.FieldError, err,
				"attempt", failures,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		failures = 0
		ticker.Reset(a.schedule.Interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context, a *agent) error {
	start := s.now()
	admitted, err := a.producer.Poll(ctx, s.submit)
	s.record(a, admitted, err, s.now().Sub(start))
	return err
}

// watch runs a Watcher alongside the poll loop. Watch-driven admissions are
// counted like polls.
func (s *Scheduler) watch(ctx context.Context, a *agent, w Watcher) {
	defer s.wg.Done()
	ctx = logger.WithProducer(ctx, a.producer.Name())
	err := w.Watch(ctx, s.submit, func(admitted int, err error) {
		s.record(a, admitted, err, 0)
	})
	if err != nil && ctx.Err() == nil {
		logger.FromContext(ctx, s.logger).Warnw("Producer watch ended", logger.FieldError, err)
	}
}

func (s *Scheduler) record(a *agent, admitted int, err error, took time.Duration) {
	end := s.now()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Checks++
	a.stats.LastCheck = &end
	if admitted > 0 {
		a.stats.UpdatesFound += uint64(admitted)
		a.stats.LastUpdate = &end
	}
	if err != nil {
		a.stats.Errors++
		a.stats.ConsecutiveFailures++
		a.stats.LastError = err.Error()
	} else {
		a.stats.ConsecutiveFailures = 0
	}

	if admitted > 0 {
		s.logger.Debugw("Producer admitted facts",
			logger.FieldProducer, a.producer.Name(),
			logger.FieldCount, admitted,
			logger.FieldDurationMS, took.Milliseconds())
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
