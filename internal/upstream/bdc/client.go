// Package bdc talks to the hex-coverage tile service and its provider search.
package bdc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
)

const (
	service = "tiles"

	// tiles are small; anything larger is not a coverage tile
	maxTileBytes = 16 << 20
	maxListBytes = 4 << 20
)

type Config struct {
	BaseURL       string
	ProcessID     string
	TileTimeout   time.Duration
	SearchTimeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func New(cfg Config, hc *http.Client, log *slog.Logger) *Client {
	if cfg.TileTimeout <= 0 {
		cfg.TileTimeout = 15 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

func (c *Client) tileURL(providerID, tech string, t maptile.Tile) string {
	return fmt.Sprintf("%s/tile/%s/%s/%s/r/0/0/%d/%d/%d",
		c.cfg.BaseURL,
		url.PathEscape(c.cfg.ProcessID),
		url.PathEscape(providerID),
		url.PathEscape(tech),
		t.Z, t.X, t.Y)
}

// FetchTile downloads one vector tile. The per-call timeout is applied here;
// callers only pass their request context.
func (c *Client) FetchTile(ctx context.Context, providerID, tech string, t maptile.Tile) model.FetchOutcome[[]byte] {
	return c.fetchTile(ctx, providerID, tech, t, c.cfg.TileTimeout)
}

// FetchTileWithin is FetchTile with a caller-chosen timeout, used by probing.
func (c *Client) FetchTileWithin(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte] {
	return c.fetchTile(ctx, providerID, tech, t, timeout)
}

func (c *Client) fetchTile(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte] {
	start := time.Now()
	out := c.doTile(ctx, providerID, tech, t, timeout)
	observability.ObserveUpstream(service, out.Kind.String(), time.Since(start).Seconds())
	if out.Failed() {
		c.log.DebugContext(ctx, "tile fetch failed",
			"provider", providerID, "tech", tech,
			"z", uint32(t.Z), "x", t.X, "y", t.Y, "err", out.Err)
	}
	return out
}

func (c *Client) doTile(ctx context.Context, providerID, tech string, t maptile.Tile, timeout time.Duration) model.FetchOutcome[[]byte] {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tileURL(providerID, tech, t), nil)
	if err != nil {
		return model.Failed[[]byte](model.Upstream(service, "tile", 0, err))
	}
	req.Header.Set("Accept", "application/x-protobuf, application/vnd.mapbox-vector-tile, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Failed[[]byte](model.Upstream(service, "tile", 0, err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return model.Empty[[]byte]()
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return model.Failed[[]byte](model.Upstream(service, "tile", resp.StatusCode, nil))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return model.Failed[[]byte](model.Upstream(service, "tile", resp.StatusCode, err))
	}
	if len(body) == 0 {
		return model.Empty[[]byte]()
	}
	return model.Success(body)
}

// SearchProviders queries the provider list by free text. Page numbers start at 0.
func (c *Client) SearchProviders(ctx context.Context, query string, page int) ([]model.ProviderIdentity, error) {
	if page < 0 {
		return nil, model.Invalid("page %d", page)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/provider/list/%s/%s/%s",
		c.cfg.BaseURL,
		url.PathEscape(c.cfg.ProcessID),
		url.PathEscape(query),
		strconv.Itoa(page))

	start := time.Now()
	rows, err := c.doSearch(ctx, u)
	outcome := model.OutcomeSuccess
	switch {
	case err != nil:
		outcome = model.OutcomeFailed
	case len(rows) == 0:
		outcome = model.OutcomeEmpty
	}
	observability.ObserveUpstream("provider_search", outcome.String(), time.Since(start).Seconds())
	return rows, err
}

func (c *Client) doSearch(ctx context.Context, u string) ([]model.ProviderIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, model.Upstream("provider_search", "list", 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.Upstream("provider_search", "list", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return []model.ProviderIdentity{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.Upstream("provider_search", "list", resp.StatusCode, nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, model.Upstream("provider_search", "list", resp.StatusCode, err)
	}
	rows, err := parseProviderList(body)
	if err != nil {
		// an unusable payload is as good as no answer
		return nil, model.Upstream("provider_search", "list", resp.StatusCode, err)
	}
	return rows, nil
}
