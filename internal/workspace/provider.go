// Package workspace loads the per-user basemap configuration consumed by a
// map view.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

var (
	ErrNoWorkspace = errors.New("no workspace configured for user")
	ErrEmptyUser   = errors.New("user id is required")
)

// Loader returns the first workspace found for a user.
type Loader interface {
	Load(ctx context.Context, userID string) (model.Workspace, error)
}

type Provider struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL *url.URL
	now     func() time.Time
}

func New(logger *slog.Logger, client *http.Client, baseURL string) (*Provider, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse workspace url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("workspace url %q must be absolute", baseURL)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{logger: logger, client: client, baseURL: u, now: time.Now}, nil
}

// Load performs GET {base}/workspace/{userID} and returns the first element
// of the returned array.
func (p *Provider) Load(ctx context.Context, userID string) (model.Workspace, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Workspace{}, ErrEmptyUser
	}

	u := p.baseURL.JoinPath("workspace", userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.Workspace{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return model.Workspace{}, fmt.Errorf("workspace request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency("workspace", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return model.Workspace{}, fmt.Errorf("workspace status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Workspace{}, fmt.Errorf("read body: %w", err)
	}
	list, err := Decode(b)
	if err != nil {
		return model.Workspace{}, err
	}
	if len(list) == 0 {
		return model.Workspace{}, ErrNoWorkspace
	}
	p.logger.Debug("workspace loaded", "user", userID, "count", len(list), "basemap", list[0].BasemapURL)
	return list[0], nil
}

// wire form of one workspace; the service has used both snake and camel case.
type wireWorkspace struct {
	ID          any    `json:"id"`
	WID         any    `json:"wid"`
	Name        string `json:"name"`
	BasemapURL  string `json:"basemap_url"`
	BasemapAttr string `json:"basemap_attr"`
	CamelURL    string `json:"basemapUrl"`
	CamelAttr   string `json:"basemapAttr"`
}

// Decode parses the JSON array returned by the workspace service.
func Decode(b []byte) ([]model.Workspace, error) {
	var raw []wireWorkspace
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode workspaces: %w", err)
	}
	out := make([]model.Workspace, 0, len(raw))
	for _, w := range raw {
		ws := model.Workspace{
			ID:          idString(w.ID, w.WID),
			Name:        w.Name,
			BasemapURL:  firstNonEmpty(w.BasemapURL, w.CamelURL),
			BasemapAttr: firstNonEmpty(w.BasemapAttr, w.CamelAttr),
		}
		out = append(out, ws)
	}
	return out, nil
}

func idString(vals ...any) string {
	for _, v := range vals {
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
