package natsbridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/factwire/bus"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/logger"
)

// DefaultPrefix is the subject root when none is configured
const DefaultPrefix = "facts"

// Publisher is the outbound side of the bridge; *JetStream implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bridge reads one bus subscription and republishes every fact.
type Bridge struct {
	pub       Publisher
	prefix    string
	timeout   time.Duration
	logger    *zap.SugaredLogger
	published atomic.Uint64
	failed    atomic.Uint64
}

// Stats counts bridge outcomes
type Stats struct {
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// New creates a bridge publishing under prefix
func New(pub Publisher, prefix string, log *zap.SugaredLogger) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{pub: pub, prefix: prefix, timeout: 5 * time.Second, logger: log}
}

// Run forwards facts from sub until its channel closes or ctx ends.
// Publish failures are logged and counted; they never stop the loop.
func (b *Bridge) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-sub.C():
			if !ok {
				return
			}
			b.forward(ctx, f)
		}
	}
}

func (b *Bridge) forward(ctx context.Context, f *fact.Fact) {
	subject := Subject(b.prefix, f)
	data, err := json.Marshal(f)
	if err != nil {
		b.failed.Add(1)
		b.logger.Errorw("Encode fact for nats failed", logger.FieldFactID, f.ID, logger.FieldError, err)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.pub.Publish(pctx, subject, data); err != nil {
		b.failed.Add(1)
		b.logger.Warnw("Publish to nats failed",
			"subject", subject,
			logger.FieldSequence, f.Sequence,
			logger.FieldError, err)
		return
	}
	b.published.Add(1)
}

// Stats returns bridge counters
func (b *Bridge) Stats() Stats {
	return Stats{Published: b.published.Load(), Failed: b.failed.Load()}
}

// Subject is "<prefix>.<entity_type>.<entity_id>.<field>" with every
// token sanitised for NATS: '.', '*', '>' and whitespace become '_'.
func Subject(prefix string, f *fact.Fact) string {
	return strings.Join([]string{
		prefix,
		sanitize(f.EntityType),
		sanitize(f.EntityID),
		sanitize(f.Field),
	}, ".")
}

func sanitize(token string) string {
	if token == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, token)
}
