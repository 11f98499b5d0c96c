package producer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factwire/internal/httpclient"
)

const feedBody = `[
  {"entity_type": "price", "entity_id": "ozempic", "field": "goodrx_low", "value": 842.00},
  {"entity_type": "price", "entity_id": "eliquis", "field": "nadac", "value": 485.50, "source": "CMS NADAC Feed"}
]`

func TestHTTPFeed_PollWithETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	port := newFakePort()
	feed := NewHTTPFeed("nadac", srv.URL, httpclient.New(httpclient.Options{AllowPrivateIP: true}), zaptest.NewLogger(t).Sugar())

	n, err := feed.Poll(context.Background(), port.Submit)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seen := port.submitted()
	require.Len(t, seen, 2)
	assert.Equal(t, "nadac", seen[0].Source, "missing source defaults to feed name")
	assert.Equal(t, srv.URL, seen[0].SourceURL)
	assert.Equal(t, "CMS NADAC Feed", seen[1].Source)

	n, err = feed.Poll(context.Background(), port.Submit)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), notModified.Load())
	assert.Len(t, port.submitted(), 2, "unchanged feed submits nothing")
}

func TestHTTPFeed_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/object":
			_, _ = w.Write([]byte(`{"not": "an array"}`))
		}
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.Options{AllowPrivateIP: true})

	_, err := NewHTTPFeed("broken", srv.URL+"/broken", client, nil).Poll(context.Background(), newFakePort().Submit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed broken")

	_, err = NewHTTPFeed("object", srv.URL+"/object", client, nil).Poll(context.Background(), newFakePort().Submit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON array")
}

func TestHTTPFeed_DefaultClientRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	port := newFakePort()
	_, err := NewHTTPFeed("local", srv.URL, nil, nil).Poll(context.Background(), port.Submit)
	assert.Error(t, err)
	assert.Empty(t, port.submitted())
}
