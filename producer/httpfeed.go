package producer

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/internal/httpclient"
)

// HTTPFeed polls a URL that serves a JSON array of candidates. Candidates
// without a source get the feed name; without a source_url, the feed URL.
type HTTPFeed struct {
	name   string
	url    string
	client *httpclient.Client
	logger *zap.SugaredLogger

	mu   sync.Mutex
	etag string
}

// NewHTTPFeed creates a feed. A nil client gets httpclient defaults, which
// refuse private addresses.
func NewHTTPFeed(name, url string, client *httpclient.Client, log *zap.SugaredLogger) *HTTPFeed {
	if client == nil {
		client = httpclient.New(httpclient.Options{})
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPFeed{name: name, url: url, client: client, logger: log}
}

func (h *HTTPFeed) Name() string { return h.name }

// Poll fetches the feed. An unchanged feed (304 on the stored ETag) submits
// nothing.
func (h *HTTPFeed) Poll(ctx context.Context, submit SubmitFunc) (int, error) {
	h.mu.Lock()
	etag := h.etag
	h.mu.Unlock()

	res, err := h.client.Fetch(ctx, h.url, etag)
	if err != nil {
		return 0, errors.Wrapf(err, "feed %s", h.name)
	}
	if res.NotModified {
		h.logger.Debugw("Feed not modified", "feed", h.name, "etag", etag)
		return 0, nil
	}

	var candidates []fact.Candidate
	if err := json.Unmarshal(res.Body, &candidates); err != nil {
		return 0, errors.WithDetail(
			errors.Wrapf(err, "feed %s: body is not a JSON array of candidates", h.name),
			h.url,
		)
	}

	admitted, err := SubmitAll(ctx, submit, withDefaults(candidates, h.name, h.url))
	if ctx.Err() == nil {
		// Keep the ETag only once the body has been fully submitted
		h.mu.Lock()
		h.etag = res.ETag
		h.mu.Unlock()
	}
	return admitted, err
}
