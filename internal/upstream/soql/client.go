// Package soql queries the tabular coverage dataset through its SoQL endpoint.
package soql

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/model"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
)

const (
	service     = "tabular"
	maxRowBytes = 32 << 20
)

// Query holds the SoQL clauses of one request. Empty clauses are omitted.
type Query struct {
	Select string
	Where  string
	Group  string
	Order  string
	Q      string
	Limit  int
}

func (q Query) Values() url.Values {
	v := url.Values{}
	set := func(k, s string) {
		if s = strings.TrimSpace(s); s != "" {
			v.Set(k, s)
		}
	}
	set("$select", q.Select)
	set("$where", q.Where)
	set("$group", q.Group)
	set("$order", q.Order)
	set("$q", q.Q)
	if q.Limit > 0 {
		v.Set("$limit", strconv.Itoa(q.Limit))
	}
	return v
}

// Literal quotes s as a SoQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Eq renders "field = 'value'".
func Eq(field, value string) string {
	return field + " = " + Literal(value)
}

type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
	log      *slog.Logger
}

func New(endpoint, appToken string, timeout time.Duration, hc *http.Client, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{endpoint: endpoint, token: appToken, timeout: timeout, http: hc, log: log}
}

// Rows runs q and decodes the JSON row array into out.
func (c *Client) Rows(ctx context.Context, q Query, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	n, err := c.rows(ctx, q, out)
	outcome := model.OutcomeSuccess
	switch {
	case err != nil:
		outcome = model.OutcomeFailed
		c.log.DebugContext(ctx, "tabular query failed", "where", q.Where, "err", err)
	case n == 0:
		outcome = model.OutcomeEmpty
	}
	observability.ObserveUpstream(service, outcome.String(), time.Since(start).Seconds())
	return err
}

func (c *Client) rows(ctx context.Context, q Query, out any) (int, error) {
	u := c.endpoint + "?" + q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, model.Upstream(service, "query", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("X-App-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, model.Upstream(service, "query", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return 0, model.Upstream(service, "query", resp.StatusCode, nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRowBytes))
	if err != nil {
		return 0, model.Upstream(service, "query", resp.StatusCode, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, model.Upstream(service, "query", resp.StatusCode, fmt.Errorf("decode rows: %w", err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return 0, model.Upstream(service, "query", resp.StatusCode, fmt.Errorf("decode rows: %w", err))
	}
	return len(raw), nil
}
