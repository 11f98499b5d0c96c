// Package store keeps the current fact per key and the append-only
// admission history.
//
// The current table is split into shards selected by an FNV-1a hash of the
// key, each behind its own RWMutex, so writers to different keys never
// contend. History lives behind a separate short mutex that is only ever
// taken while a key lock is held (never the reverse); sequence numbers and
// timestamps are assigned there, so history order, per-key order and time
// order agree. Commit hooks run under that same mutex.
package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/logger"
)

// DefaultShards is the shard count used when none is configured
const DefaultShards = 64

// DecideFunc is run by Apply while the key lock is held. It receives a copy
// of the current fact (nil on first observation) and returns the fact to
// admit, or an error to reject. Returning (nil, nil) is treated as no change.
type DecideFunc func(current *fact.Fact) (*fact.Fact, error)

// Journal persists admitted facts. Record is called under the key lock, in
// admission order per key. Load returns history in sequence order.
type Journal interface {
	Record(ctx context.Context, f *fact.Fact) error
	Load(ctx context.Context) ([]*fact.Fact, error)
}

// Stats is a point-in-time view of store size
type Stats struct {
	TotalFacts    int    `json:"total_facts"`
	HistoryLen    int    `json:"history_len"`
	Entities      int    `json:"entities"`
	LastSequence  uint64 `json:"last_sequence"`
	JournalErrors uint64 `json:"journal_errors"`
}

type shard struct {
	mu      sync.RWMutex
	current map[fact.Key]*fact.Fact
}

// Store is safe for concurrent use.
type Store struct {
	shards []*shard

	histMu  sync.RWMutex
	history []*fact.Fact
	seq     uint64

	clock         func() time.Time
	journal       Journal
	journalErrors atomic.Uint64
	logger        *zap.SugaredLogger
}

// Option configures a Store
type Option func(*Store)

// WithShards sets the shard count (n <= 0 keeps the default)
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.shards = makeShards(n)
		}
	}
}

// WithClock replaces time.Now for timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithJournal persists every admission
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger sets the store logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		shards: makeShards(DefaultShards),
		clock:  time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func makeShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{current: make(map[fact.Key]*fact.Fact)}
	}
	return shards
}

func (s *Store) shardFor(k fact.Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.EntityType))
	h.Write([]byte{':'})
	h.Write([]byte(k.EntityID))
	h.Write([]byte{':'})
	h.Write([]byte(k.Field))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Upsert admits f unless its value equals the key's current value, in which
// case errors.ErrNoChange is returned.
func (s *Store) Upsert(f *fact.Fact) (*fact.Fact, error) {
	if f == nil {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "nil fact")
	}
	return s.Apply(f.Key(), func(*fact.Fact) (*fact.Fact, error) {
		return f, nil
	})
}

// Apply runs decide against the current fact for key under that key's lock
// and admits the result. The store stamps ID, PreviousValue, CreatedAt,
// UpdatedAt and Sequence; whatever decide set for those is overwritten.
// A decided value equal to the current one yields errors.ErrNoChange.
func (s *Store) Apply(key fact.Key, decide DecideFunc) (*fact.Fact, error) {
	return s.ApplyContext(context.Background(), key, decide)
}

// ApplyContext is Apply with ctx passed to the journal write. Callers that
// must not lose a decided admission pass a context without cancellation.
func (s *Store) ApplyContext(ctx context.Context, key fact.Key, decide DecideFunc) (*fact.Fact, error) {
	return s.Commit(ctx, key, decide, nil)
}

// CommitFunc sees each admitted fact at the moment its sequence number is
// assigned, with the key lock and the history lock held. It must only
// enqueue; it must not call back into the store.
type CommitFunc func(f *fact.Fact)

// Commit is ApplyContext with a hook run on admission. Hooks run in
// sequence order across all keys, so a queue fed from onCommit sees the
// exact admission order.
func (s *Store) Commit(ctx context.Context, key fact.Key, decide DecideFunc, onCommit CommitFunc) (*fact.Fact, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := sh.current[key]
	next, err := decide(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return nil, errors.Wrapf(errors.ErrNoChange, "%s", key)
	}
	if current != nil && fact.Equal(next.Value, current.Value) {
		return nil, errors.Wrapf(errors.ErrNoChange, "%s", key)
	}

	admitted := next.Clone()
	admitted.EntityType, admitted.EntityID, admitted.Field = key.EntityType, key.EntityID, key.Field
	admitted.ID = key.ID()
	admitted.PreviousValue = nil
	if current != nil {
		admitted.PreviousValue = fact.DeepCopy(current.Value)
	}

	s.appendHistory(admitted, current, onCommit)
	sh.current[key] = admitted

	if s.journal != nil {
		if err := s.journal.Record(ctx, admitted.Clone()); err != nil {
			s.journalErrors.Add(1)
			s.logger.Errorw("Journal record failed, keeping in-memory admission",
				append(logger.FactFields(admitted.ID, key.EntityType, key.EntityID, key.Field),
					logger.FieldSequence, admitted.Sequence,
					logger.FieldError, err)...)
		}
	}

	return admitted.Clone(), nil
}

// appendHistory assigns sequence and timestamps and appends f. Timestamps
// never go backwards across history even if the clock does.
func (s *Store) appendHistory(f *fact.Fact, current *fact.Fact, onCommit CommitFunc) {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	now := s.clock()
	if n := len(s.history); n > 0 && now.Before(s.history[n-1].UpdatedAt) {
		now = s.history[n-1].UpdatedAt
	}
	s.seq++
	f.Sequence = s.seq
	f.UpdatedAt = now
	if current != nil {
		f.CreatedAt = current.CreatedAt
	} else {
		f.CreatedAt = now
	}
	s.history = append(s.history, f)
	if onCommit != nil {
		onCommit(f.Clone())
	}
}

// CurrentValue returns a copy of the current fact for the key, or
// errors.ErrNotFound.
func (s *Store) CurrentValue(entityType, entityID, field string) (*fact.Fact, error) {
	key := fact.Key{EntityType: entityType, EntityID: entityID, Field: field}
	sh := s.shardFor(key)
	sh.mu.RLock()
	f, ok := sh.current[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("fact %s", key)
	}
	return f.Clone(), nil
}

// FactsForEntity returns the current facts of one entity ordered by field.
func (s *Store) FactsForEntity(entityType, entityID string) []*fact.Fact {
	var out []*fact.Fact
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, f := range sh.current {
			if k.EntityType == entityType && k.EntityID == entityID {
				out = append(out, f.Clone())
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// RecentChanges returns history entries updated within window of now with
// importance >= minImportance, newest first. A window <= 0 means all history.
func (s *Store) RecentChanges(window time.Duration, minImportance fact.Importance) []*fact.Fact {
	var cutoff time.Time
	if window > 0 {
		cutoff = s.clock().Add(-window)
	}

	s.histMu.RLock()
	defer s.histMu.RUnlock()

	var out []*fact.Fact
	for i := len(s.history) - 1; i >= 0; i-- {
		f := s.history[i]
		if window > 0 && f.UpdatedAt.Before(cutoff) {
			break
		}
		if f.Importance >= minImportance {
			out = append(out, f.Clone())
		}
	}
	return out
}

// History returns entries with sequence > after, oldest first, at most
// limit entries (limit <= 0 means no limit).
func (s *Store) History(after uint64, limit int) []*fact.Fact {
	s.histMu.RLock()
	defer s.histMu.RUnlock()

	// Sequences are dense from 1 unless history was rehydrated from a
	// journal with gaps, so search rather than index.
	start := sort.Search(len(s.history), func(i int) bool { return s.history[i].Sequence > after })
	end := len(s.history)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*fact.Fact, 0, end-start)
	for _, f := range s.history[start:end] {
		out = append(out, f.Clone())
	}
	return out
}

// Stats reports store size
func (s *Store) Stats() Stats {
	st := Stats{JournalErrors: s.journalErrors.Load()}
	entities := make(map[string]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		st.TotalFacts += len(sh.current)
		for k := range sh.current {
			entities[k.EntityType+":"+k.EntityID] = struct{}{}
		}
		sh.mu.RUnlock()
	}
	st.Entities = len(entities)

	s.histMu.RLock()
	st.HistoryLen = len(s.history)
	st.LastSequence = s.seq
	s.histMu.RUnlock()
	return st
}

// Rehydrate replays the journal into memory. It must run before the store
// accepts submissions.
func (s *Store) Rehydrate(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	facts, err := s.journal.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load journal")
	}

	s.histMu.RLock()
	nonEmpty := len(s.history) > 0
	s.histMu.RUnlock()
	if nonEmpty {
		return errors.Wrap(errors.ErrConflict, "rehydrate into non-empty store")
	}

	var last uint64
	for _, f := range facts {
		if f.Sequence <= last {
			return errors.Newf("journal out of order: sequence %d after %d", f.Sequence, last)
		}
		last = f.Sequence
	}

	// Shard locks and the history lock are taken one at a time, never nested
	for _, f := range facts {
		key := f.Key()
		sh := s.shardFor(key)
		sh.mu.Lock()
		sh.current[key] = f
		sh.mu.Unlock()
	}

	s.histMu.Lock()
	s.history = append(s.history, facts...)
	s.seq = last
	s.histMu.Unlock()

	s.logger.Infow("Rehydrated store from journal",
		logger.FieldCount, len(facts),
		logger.FieldSequence, last)
	return nil
}
