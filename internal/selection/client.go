// Package selection sends billboard selection requests to the remote
// optimizer and adapts its response into selected sites.
package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/cache/keys"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

const (
	selectPath      = "api/billboards"
	maxResponseBody = 64 << 20
)

type Requester interface {
	RequestSelection(ctx context.Context, p model.SelectionParams) (model.OverlayLayer, error)
}

type Client struct {
	logger   *slog.Logger
	client   *http.Client
	endpoint string
	timeout  time.Duration
	now      func() time.Time
}

// New returns a client for the optimizer at baseURL. timeout bounds each
// call; 0 leaves the deadline to the caller's context.
func New(logger *slog.Logger, client *http.Client, baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, newErr(KindConfiguration, "parse optimizer url", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, newErr(KindConfiguration, "parse optimizer url", fmt.Errorf("optimizer url %q must be absolute", baseURL))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:   logger,
		client:   client,
		endpoint: u.JoinPath(selectPath).String(),
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// RequestSelection issues exactly one POST to the optimizer. It does not
// retry. On success the returned layer carries params, sites and timing;
// the overlay store assigns its id and sequence.
func (c *Client) RequestSelection(ctx context.Context, p model.SelectionParams) (model.OverlayLayer, error) {
	log := c.logger.With("method", p.Method, "username", p.Username)
	start := c.now()

	layer, err := c.do(ctx, p)
	dur := c.now().Sub(start)
	observability.ObserveUpstreamLatency("optimizer", dur.Seconds())

	if err != nil {
		kind := KindOf(err)
		observability.IncSelection(string(kind), p.Method)
		log.Error("selection request failed", "kind", string(kind), "duration", dur.String(), "err", err)
		return model.OverlayLayer{}, err
	}
	observability.IncSelection("ok", p.Method)
	log.Info("selection request done", "sites", len(layer.Sites), "duration", dur.String())

	layer.RequestedAt = start
	layer.CompletedAt = start.Add(dur)
	return layer, nil
}

func (c *Client) do(ctx context.Context, p model.SelectionParams) (model.OverlayLayer, error) {
	if err := Validate(p); err != nil {
		return model.OverlayLayer{}, err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return model.OverlayLayer{}, newErr(KindConfiguration, "encode request", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.OverlayLayer{}, newErr(KindConfiguration, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return model.OverlayLayer{}, newErr(KindNetwork, "post", contextCause(ctx, err))
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return model.OverlayLayer{}, newErr(KindNetwork, "read body", contextCause(ctx, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := b
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return model.OverlayLayer{}, newErr(KindProtocol, "status",
			fmt.Errorf("optimizer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if len(b) > maxResponseBody {
		return model.OverlayLayer{}, newErr(KindProtocol, "read body", fmt.Errorf("response exceeds %d bytes", maxResponseBody))
	}

	sites, err := DecodeResponse(b)
	if err != nil {
		return model.OverlayLayer{}, err
	}
	return model.OverlayLayer{
		Params:      p,
		Sites:       sites,
		Fingerprint: keys.Fingerprint(p),
	}, nil
}

// contextCause prefers the context error so callers can tell a deadline
// from a refused connection.
func contextCause(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		return fmt.Errorf("%w: %w", cerr, err)
	}
	return err
}
