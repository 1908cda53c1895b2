// Package gateway is a Connector that reaches every source through an HTTP
// JSON gateway. Source-specific scraping and SOAP handling live behind the
// gateway; this side only maps HTTP outcomes onto the adapter taxonomy.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kybmon/internal/connectors"
)

// maxBody caps how much of a gateway response is read.
const maxBody = 4 << 20

type envelope struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  string         `json:"error"`
}

// Connector calls GET {URL}?identifier=...&<options> for one source.
type Connector struct {
	source   string
	endpoint string
	client   *http.Client
	validate func(string) error
	scorer   MatchScorer
	minScore float64
}

type Option func(*Connector)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Connector) {
		if c != nil {
			g.client = c
		}
	}
}

// WithValidator installs a local identifier format check.
func WithValidator(fn func(string) error) Option {
	return func(g *Connector) { g.validate = fn }
}

// WithMatchScorer re-scores sanctions candidates returned by the gateway.
// Candidates scoring below minScore are discarded.
func WithMatchScorer(s MatchScorer, minScore float64) Option {
	return func(g *Connector) {
		g.scorer = s
		g.minScore = minScore
	}
}

func New(source, endpoint string, opts ...Option) (*Connector, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway %s: invalid endpoint %q", source, endpoint)
	}
	g := &Connector{
		source:   source,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Connector) Source() string { return g.source }

func (g *Connector) Validate(identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return &connectors.ValidationError{Source: g.source, Identifier: identifier, Reason: "empty identifier"}
	}
	if g.validate == nil {
		return nil
	}
	if err := g.validate(identifier); err != nil {
		return &connectors.ValidationError{Source: g.source, Identifier: identifier, Reason: err.Error()}
	}
	return nil
}

func (g *Connector) CheckSingle(ctx context.Context, identifier string, opts connectors.Options) (connectors.Result, error) {
	u, _ := url.Parse(g.endpoint)
	q := u.Query()
	q.Set("identifier", identifier)
	for k, v := range opts {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return connectors.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return connectors.Result{}, &connectors.UnavailableError{
			Source:    g.source,
			Transient: true,
			Timeout:   errors.Is(err, context.DeadlineExceeded),
			Err:       err,
		}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	// Error bodies are often not JSON; only a 200 must decode.
	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return g.result(identifier, connectors.StatusNotFound, env), nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		reason := env.Error
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return connectors.Result{}, &connectors.ValidationError{Source: g.source, Identifier: identifier, Reason: reason}
	case resp.StatusCode == http.StatusTooManyRequests:
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Err: errors.New("upstream throttled the request")}
	case resp.StatusCode >= 500:
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Transient: true, Err: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Err: fmt.Errorf("unexpected gateway status %d", resp.StatusCode)}
	}

	if decodeErr != nil {
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Transient: true, Err: fmt.Errorf("decode gateway response: %w", decodeErr)}
	}
	status := connectors.Status(env.Status)
	if !status.Settled() {
		return connectors.Result{}, &connectors.UnavailableError{Source: g.source, Err: fmt.Errorf("gateway reported status %q: %s", env.Status, env.Error)}
	}
	if g.scorer != nil && (status == connectors.StatusMatch || status == connectors.StatusNoMatch) {
		status = g.rescore(identifier, &env)
	}
	return g.result(identifier, status, env), nil
}

func (g *Connector) result(identifier string, status connectors.Status, env envelope) connectors.Result {
	return connectors.Result{
		Identifier: identifier,
		Source:     g.source,
		Status:     status,
		Data:       env.Data,
	}
}
