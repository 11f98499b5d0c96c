// Package engine builds the fact pipeline once at process start and hands
// out the pieces. There is no global instance; callers own the *Engine.
package engine

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factwire/ai/provider"
	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/bus"
	"github.com/teranos/factwire/bus/natsbridge"
	"github.com/teranos/factwire/db"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact/store"
	"github.com/teranos/factwire/ingest"
	"github.com/teranos/factwire/internal/httpclient"
	"github.com/teranos/factwire/metrics"
	"github.com/teranos/factwire/producer"
	"github.com/teranos/factwire/validator"
)

// FileFeedInterval is how often the drop directory is rescanned in
// addition to fsnotify events
const FileFeedInterval = time.Minute

// Engine wires store, validator, bus, ingestion port and producers.
type Engine struct {
	Store     *store.Store
	Validator *validator.Validator
	Bus       *bus.Bus
	Port      *ingest.Port
	Scheduler *producer.Scheduler
	Catalog   *producer.Catalog
	Metrics   *metrics.Metrics

	cfg       *am.Config
	db        *sql.DB
	ownsDB    bool
	journal   store.Journal
	scorer    validator.Scorer
	scorerSet bool
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	stream    *natsbridge.JetStream
	bridge    *natsbridge.Bridge
	bridgeSub *bus.Subscription
	bridgeWG  sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithDB uses an existing database for the journal instead of opening
// cfg.Database.Path. The caller keeps ownership; Stop does not close it.
func WithDB(d *sql.DB) Option {
	return func(e *Engine) { e.db = d }
}

// WithScorer overrides the scorer selected by cfg.Scorer.Provider. A nil
// scorer means rule-only confidence.
func WithScorer(s validator.Scorer) Option {
	return func(e *Engine) {
		e.scorer = s
		e.scorerSet = true
	}
}

// WithLogger sets the logger handed to every component
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds the engine. Nothing runs until Start.
func New(cfg *am.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.NewInvalidRequestError("engine config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.openJournal(); err != nil {
		return nil, err
	}

	if !e.scorerSet {
		s, err := provider.NewScorer(cfg, e.db, e.logger.Named("scorer"))
		if err != nil {
			e.closeDB()
			return nil, err
		}
		e.scorer = s
	}

	storeOpts := []store.Option{
		store.WithShards(cfg.Store.Shards),
		store.WithLogger(e.logger.Named("store")),
	}
	if e.journal != nil {
		storeOpts = append(storeOpts, store.WithJournal(e.journal))
	}
	e.Store = store.New(storeOpts...)

	e.Validator = validator.New(e.scorer,
		validator.WithEscalationThreshold(escalationThreshold(cfg)),
		validator.WithScorerTimeout(cfg.ScorerTimeout()),
		validator.WithWeights(cfg.Validator.RuleWeight, cfg.Validator.ScorerWeight),
		validator.WithLogger(e.logger.Named("validator")),
	)

	e.Bus = bus.New(
		bus.WithBufferSize(cfg.Bus.BufferSize),
		bus.WithLogger(e.logger.Named("bus")),
	)

	e.Metrics = metrics.New()
	e.Metrics.WatchStore(e.Store.Stats)
	e.Metrics.WatchBus(e.Bus)

	e.Port = ingest.NewPort(e.Store, e.Validator, e.Bus,
		ingest.WithLogger(e.logger.Named("ingest")),
		ingest.WithObserver(e.Metrics),
	)

	e.Scheduler = producer.NewScheduler(e.Port.Submit, producer.WithLogger(e.logger.Named("producer")))
	e.Catalog = producer.DefaultCatalog()
	if err := e.registerProducers(); err != nil {
		e.closeDB()
		return nil, err
	}

	return e, nil
}

func (e *Engine) openJournal() error {
	if !e.cfg.Database.Journal && e.db == nil {
		return nil
	}
	if e.db == nil {
		d, err := db.OpenWithMigrations(e.cfg.GetDatabasePath(), e.logger.Named("db"))
		if err != nil {
			return errors.Wrap(err, "failed to open fact journal")
		}
		e.db = d
		e.ownsDB = true
	} else if err := db.Migrate(e.db, e.logger.Named("db")); err != nil {
		return errors.Wrap(err, "failed to migrate fact journal")
	}
	if e.cfg.Database.Journal {
		e.journal = store.NewSQLJournal(e.db, e.logger.Named("journal"))
	}
	return nil
}

func (e *Engine) registerProducers() error {
	pcfg := e.cfg.Producers

	var feeds []producer.Producer
	feedSchedules := map[string]producer.Schedule{}
	if len(pcfg.HTTPFeeds) > 0 {
		client := httpclient.New(httpclient.Options{AllowPrivateIP: pcfg.AllowPrivateIP})
		for _, feed := range pcfg.HTTPFeeds {
			feeds = append(feeds, producer.NewHTTPFeed(feed.Name, feed.URL, client, e.logger.Named("feed")))
			feedSchedules[feed.Name] = producer.Schedule{
				Interval:      time.Duration(feed.IntervalSeconds) * time.Second,
				RatePerMinute: feed.RatePerMinute,
			}
		}
	}

	// A feed named after a catalog source runs under the agent covering it.
	// Agents without one stay idle.
	claimed := map[string]bool{}
	if pcfg.CatalogEnabled {
		for _, agent := range producer.DefaultAgents() {
			var members []producer.Producer
			for _, f := range feeds {
				if !claimed[f.Name()] && agent.Covers(f.Name()) {
					members = append(members, f)
					claimed[f.Name()] = true
				}
			}
			var delegate producer.Producer
			if len(members) > 0 {
				delegate = producer.Fanout{FanoutName: agent.Name, Members: members}
			}
			p, sched := agent.Bind(delegate)
			if err := e.Scheduler.Add(p, sched); err != nil {
				return errors.Wrapf(err, "register agent %s", agent.Name)
			}
		}
	}

	for _, f := range feeds {
		if claimed[f.Name()] {
			continue
		}
		if err := e.Scheduler.Add(f, feedSchedules[f.Name()]); err != nil {
			return errors.Wrapf(err, "register feed %s", f.Name())
		}
	}

	if pcfg.FileFeedDir != "" {
		p, err := producer.NewFileFeed("file_feed", pcfg.FileFeedDir, e.logger.Named("feed"))
		if err != nil {
			return err
		}
		if err := e.Scheduler.Add(p, producer.Schedule{Interval: FileFeedInterval}); err != nil {
			return errors.Wrap(err, "register file feed")
		}
	}
	return nil
}

// Start rehydrates the store from the journal, starts the bus, connects the
// optional NATS bridge and launches producers. A failing bridge is logged
// and skipped.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if e.journal != nil {
		if err := e.Store.Rehydrate(ctx); err != nil {
			return errors.Wrap(err, "failed to rehydrate fact store")
		}
		st := e.Store.Stats()
		e.logger.Infow("Fact store rehydrated",
			"facts", st.TotalFacts,
			"history", st.HistoryLen,
			"last_sequence", st.LastSequence)
	}

	e.Bus.Start()
	if e.cfg.Nats.URL != "" {
		if err := e.startBridge(); err != nil {
			e.logger.Warnw("NATS bridge disabled", "url", e.cfg.Nats.URL, "error", err)
		}
	}
	e.Scheduler.Start(ctx)

	e.running = true
	e.startedAt = e.now()
	e.logger.Infow("Engine started",
		"producers", len(e.Scheduler.Stats()),
		"sources_active", e.Catalog.Active(),
		"escalation_threshold", e.Validator.EscalationThreshold())
	return nil
}

func (e *Engine) startBridge() error {
	js, err := natsbridge.Connect(e.cfg.Nats.URL)
	if err != nil {
		return err
	}
	prefix := e.cfg.Nats.SubjectPrefix
	if prefix == "" {
		prefix = natsbridge.DefaultPrefix
	}
	if e.cfg.Nats.Stream != "" {
		if err := js.EnsureStream(e.cfg.Nats.Stream, prefix+".>"); err != nil {
			js.Close()
			return err
		}
	}
	e.attachBridge(natsbridge.New(js, prefix, e.logger.Named("nats")))
	e.stream = js
	return nil
}

// attachBridge subscribes br to the bus. Must be called with e.mu held.
func (e *Engine) attachBridge(br *natsbridge.Bridge) {
	e.bridge = br
	e.bridgeSub = e.Bus.Subscribe()
	e.bridgeWG.Add(1)
	go func() {
		defer e.bridgeWG.Done()
		br.Run(context.Background(), e.bridgeSub)
	}()
}

// Stop halts producers first so no new submissions arrive, then the bridge
// and bus. A database the engine opened itself is closed.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.closeDB()
		return
	}
	e.running = false

	e.Scheduler.Stop()
	if e.bridgeSub != nil {
		e.Bus.Unsubscribe(e.bridgeSub)
		e.bridgeWG.Wait()
		e.bridgeSub = nil
	}
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
	e.Bus.Stop()
	if f, ok := e.scorer.(interface{ Flush() }); ok {
		f.Flush()
	}
	e.closeDB()
	e.logger.Infow("Engine stopped")
}

func (e *Engine) closeDB() {
	if e.ownsDB && e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warnw("Failed to close database", "error", err)
		}
		e.db = nil
	}
}

// DB returns the journal database, or nil when the journal is disabled
func (e *Engine) DB() *sql.DB {
	return e.db
}

// ApplyConfig applies the settings that can change without a restart.
// Only the escalation threshold is live; anything else needs a restart.
func (e *Engine) ApplyConfig(cfg *am.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := e.Validator.EscalationThreshold()
	next := escalationThreshold(cfg)
	if prev != next {
		e.Validator.SetEscalationThreshold(next)
		e.logger.Infow("Escalation threshold changed", "from", prev, "to", next)
	}
	return nil
}

// escalationThreshold treats an unset threshold as the default
func escalationThreshold(cfg *am.Config) int {
	if cfg.Validator.EscalationThreshold == 0 {
		return validator.DefaultEscalationThreshold
	}
	return cfg.Validator.EscalationThreshold
}
