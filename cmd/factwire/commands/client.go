package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/factwire/am"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/internal/httpclient"
)

// apiClient talks to a running factwire server
type apiClient struct {
	base string
	http *httpclient.Client
}

func newAPIClient(base string) *apiClient {
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", am.GetServerPort())
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		// The server is usually on loopback
		http: httpclient.New(httpclient.Options{Timeout: 15 * time.Second, AllowPrivateIP: true}),
	}
}

// addServerFlag registers --server on cmd
func addServerFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "server", "", "Server base URL (default http://localhost:<server.port>)")
}

// apiError is a non-2xx reply carrying the server's {"error": ...} message
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// do sends body (if any) as JSON and decodes the reply into out. Statuses
// from 400 up become an apiError; out is still filled when that body is JSON.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, errors.Wrapf(err, "build request for %s", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.WithHint(
			errors.Wrapf(err, "request to %s failed", c.base),
			"is `factwire server` running? pass --server to point elsewhere",
		)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httpclient.DefaultMaxBodyBytes))
	if err != nil {
		return resp.StatusCode, errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return resp.StatusCode, &apiError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "failed to decode response")
		}
	}
	return resp.StatusCode, nil
}
