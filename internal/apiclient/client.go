// Package apiclient is the console's client for the backend REST API.
//
// Requests carry the backend's session cookies (an access/refresh pair held
// in the client's cookie jar). Bodies are translated between the wire's
// snake_case keys and the application's camelCase keys. When a request is
// rejected with 401 the client renews the session once, shared by every
// request that failed at the same time, and retries the request once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"panel/internal/keycase"
)

const (
	// DefaultCooldown is the minimum interval between the starts of two
	// renewal attempts.
	DefaultCooldown = 5 * time.Second

	DefaultAccessCookie  = "access_token"
	DefaultRefreshCookie = "refresh_token"

	renewPath = "/auth/refresh"
	renewKey  = "renew"

	tracerName = "panel/apiclient"

	maxBodyBytes = 8 << 20
)

// Options configures a Client. BaseURL is required and must be absolute.
type Options struct {
	BaseURL *url.URL

	// HTTPClient is copied; a cookie jar is attached when it has none.
	HTTPClient *http.Client

	// Cooldown defaults to DefaultCooldown. A negative value disables it.
	Cooldown time.Duration

	// ReplayFailedRenewal makes a renewal skipped by the cooldown return the
	// previous attempt's error instead of succeeding.
	ReplayFailedRenewal bool

	// Navigator is used when the request context carries none.
	Navigator Navigator

	AccessCookie  string
	RefreshCookie string

	Logger  *slog.Logger
	Metrics *Metrics

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Now is the clock used for the cooldown.
	Now func() time.Time
}

// Client talks to the backend on behalf of one console session.
type Client struct {
	base          *url.URL
	hc            *http.Client
	nav           Navigator
	cooldown      time.Duration
	replayFailed  bool
	accessCookie  string
	refreshCookie string
	log           *slog.Logger
	metrics       *Metrics
	now           func() time.Time
	tracer        trace.Tracer

	flight singleflight.Group

	mu           sync.Mutex
	lastRenewal  time.Time
	lastRenewErr error
	cred         oauth2.Token
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == nil || !opts.BaseURL.IsAbs() {
		return nil, errors.New("apiclient: base URL must be absolute")
	}

	hc := &http.Client{Timeout: 15 * time.Second}
	if opts.HTTPClient != nil {
		cp := *opts.HTTPClient
		hc = &cp
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("apiclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	c := &Client{
		base:          opts.BaseURL,
		hc:            hc,
		nav:           opts.Navigator,
		cooldown:      opts.Cooldown,
		replayFailed:  opts.ReplayFailedRenewal,
		accessCookie:  opts.AccessCookie,
		refreshCookie: opts.RefreshCookie,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		now:           opts.Now,
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(tracerName)
	if c.cooldown == 0 {
		c.cooldown = DefaultCooldown
	}
	if c.accessCookie == "" {
		c.accessCookie = DefaultAccessCookie
	}
	if c.refreshCookie == "" {
		c.refreshCookie = DefaultRefreshCookie
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// BaseURL returns the API base the client was created with.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// request is one logical API call. retried is set once the call has been
// re-issued after a renewal and is never cleared.
type request struct {
	method    string
	path      string
	body      []byte
	renewable bool
	retried   bool
}

// Do sends a JSON request to path (relative to the base URL). in, when not
// nil, is encoded and its keys translated to the wire format; the response
// body is translated back and decoded into out, when not nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	req, err := newRequest(method, path, in)
	if err != nil {
		return err
	}
	req.renewable = true
	return c.send(ctx, req, out)
}

// doPublic sends a request that never triggers renewal. Credential
// endpoints use it so that a rejected password is reported as such.
func (c *Client) doPublic(ctx context.Context, method, path string, in, out any) error {
	req, err := newRequest(method, path, in)
	if err != nil {
		return err
	}
	return c.send(ctx, req, out)
}

func newRequest(method, path string, in any) (*request, error) {
	req := &request{method: method, path: path}
	if in == nil {
		return req, nil
	}
	b, err := encodeBody(in)
	if err != nil {
		return nil, fmt.Errorf("apiclient: encode %s %s: %w", method, path, err)
	}
	req.body = b
	return req, nil
}

func (c *Client) send(ctx context.Context, req *request, out any) error {
	ctx, span := c.tracer.Start(ctx, "apiclient "+req.method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("apiclient.path", req.path),
		),
	)
	defer span.End()

	for {
		resp, err := c.roundTrip(ctx, req)
		if err != nil {
			c.metrics.request("error")
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport")
			return err
		}
		c.metrics.request(statusClass(resp.StatusCode))
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		if resp.StatusCode == http.StatusUnauthorized && req.renewable && !req.retried {
			drain(resp)
			req.retried = true
			span.AddEvent("renew")
			if err := c.Renew(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "renewal failed")
				return err
			}
			c.metrics.retry()
			continue
		}

		if err := c.decode(resp, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}

func (c *Client) roundTrip(ctx context.Context, req *request) (*http.Response, error) {
	target, err := c.endpoint(req.path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Accept", "application/json")
	if req.body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(hr)
	if err != nil {
		return nil, err
	}
	c.observe(resp)
	return resp, nil
}

// endpoint joins the base URL with p, which may carry a query string.
func (c *Client) endpoint(p string) (string, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("apiclient: bad path %q: %w", p, err)
	}
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("apiclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return decodeBody(body, out)
}

func encodeBody(in any) ([]byte, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := unmarshalNumber(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(keycase.ToSnake(generic))
}

func decodeBody(body []byte, out any) error {
	var generic any
	if err := unmarshalNumber(body, &generic); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	translated, err := json.Marshal(keycase.ToCamel(generic))
	if err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	if err := json.Unmarshal(translated, out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}

// unmarshalNumber keeps numbers as json.Number so large identifiers survive
// the generic round trip.
func unmarshalNumber(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	_ = resp.Body.Close()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
