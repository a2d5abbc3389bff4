// Package tebra talks to the Tebra EHR through the internal Cloud Run proxy.
//
// The proxy only accepts callers presenting a Google identity token minted for
// its URL. It forwards each action to Tebra's SOAP API and returns whatever
// JSON it builds from the SOAP response. Results are unwrapped through the
// envelope package.
package tebra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/internal/envelope"
	"github.com/ralflukner/workflow-bolt-sub011/internal/observability/metrics"
	"github.com/ralflukner/workflow-bolt-sub011/internal/ratelimit"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2
	maxResponseSize = 10 << 20
	dateLayout      = "2006-01-02"
	apiKeyHeader    = "X-API-Key"
)

var (
	// ErrValidation marks bad arguments rejected before any network call.
	ErrValidation = errors.New("tebra: validation failed")
	// ErrInsecureURL is returned by New for proxy URLs that are not https.
	ErrInsecureURL = errors.New("tebra: proxy URL must use https")
	// ErrUpstream marks an explicit failure reported by the proxy or Tebra.
	ErrUpstream = errors.New("tebra: upstream reported failure")
)

// TokenSourceFunc builds an identity token source for audience.
type TokenSourceFunc func(ctx context.Context, audience string) (oauth2.TokenSource, error)

// Config holds configuration for the Tebra proxy client
type Config struct {
	BaseURL string // e.g. "https://tebra-proxy-xxxx.a.run.app"
	APIKey  string // optional X-API-Key understood by the proxy
	Timeout time.Duration
	// RetryMax is the number of retries for failed calls. Zero uses the
	// default; a negative value disables retries.
	RetryMax int

	// TokenSource overrides identity token minting (tests, local runs).
	TokenSource oauth2.TokenSource
	// NewTokenSource is used on first call when TokenSource is nil.
	// Defaults to idtoken.NewTokenSource.
	NewTokenSource TokenSourceFunc
	// HTTPClient is the base transport. Its Timeout is overwritten.
	HTTPClient *http.Client

	Limiter *ratelimit.Limiter
	Logger  *logging.Logger
	Metrics *metrics.SyncMetrics
}

// Client calls the Tebra proxy.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	limiter *ratelimit.Limiter
	logger  *logging.Logger
	metrics *metrics.SyncMetrics
	tracer  trace.Tracer

	tokenMu        sync.Mutex
	tokenSource    oauth2.TokenSource
	newTokenSource TokenSourceFunc
}

// New validates cfg and builds a client. A non-https BaseURL is rejected here
// rather than on the first request.
func New(cfg Config) (*Client, error) {
	base, err := validateBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryMax := cfg.RetryMax
	switch {
	case retryMax == 0:
		retryMax = defaultRetryMax
	case retryMax < 0:
		retryMax = 0
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	copied := *httpClient
	copied.Timeout = timeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &copied
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = logger.Logger
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultBudgets(), logger,
			ratelimit.WithObserver(cfg.Metrics.ObserveRateLimitWait))
	}

	newTS := cfg.NewTokenSource
	if newTS == nil {
		newTS = func(ctx context.Context, audience string) (oauth2.TokenSource, error) {
			return idtoken.NewTokenSource(ctx, audience)
		}
	}

	return &Client{
		baseURL:        base,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		http:           rc,
		limiter:        limiter,
		logger:         logger,
		metrics:        cfg.Metrics,
		tracer:         otel.Tracer("workflow.internal.emr.tebra"),
		tokenSource:    cfg.TokenSource,
		newTokenSource: newTS,
	}, nil
}

func validateBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: BaseURL is required", ErrInsecureURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInsecureURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return "", fmt.Errorf("%w: got %q", ErrInsecureURL, raw)
	}
	return strings.TrimSuffix(raw, "/"), nil
}

// GetAppointments returns the raw appointments between fromDate and toDate
// inclusive. Dates are YYYY-MM-DD.
func (c *Client) GetAppointments(ctx context.Context, fromDate, toDate string) ([]any, error) {
	from, err := parseDate("fromDate", fromDate)
	if err != nil {
		return nil, err
	}
	to, err := parseDate("toDate", toDate)
	if err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: fromDate %s is after toDate %s", ErrValidation, fromDate, toDate)
	}

	doc, err := c.call(ctx, ratelimit.MethodGetAppointments, map[string]any{
		"fromDate": fromDate,
		"toDate":   toDate,
	})
	if err != nil {
		return nil, err
	}
	return listAt(doc, appointmentPaths, appointmentItemKeys...), nil
}

// GetProviders returns the raw provider records.
func (c *Client) GetProviders(ctx context.Context) ([]any, error) {
	doc, err := c.call(ctx, ratelimit.MethodGetProviders, map[string]any{})
	if err != nil {
		return nil, err
	}
	return listAt(doc, providerPaths, providerItemKeys...), nil
}

// GetPatientByID returns the raw patient record, or nil when the proxy
// returned no patient.
func (c *Client) GetPatientByID(ctx context.Context, id string) (emr.RawPatient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	doc, err := c.call(ctx, ratelimit.MethodGetPatient, map[string]any{"patientId": id})
	if err != nil {
		return nil, err
	}
	for _, item := range listAt(doc, patientPaths) {
		if obj, ok := envelope.Object(item); ok {
			return obj, nil
		}
	}
	return nil, nil
}

// TestConnection probes the proxy health endpoint. It never returns an error.
func (c *Client) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	if err := c.authorize(ctx, req); err != nil {
		c.logger.Warn("tebra proxy connection test failed", "error", err)
		return false
	}
	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("tebra proxy connection test failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("tebra proxy connection test failed", "status", resp.StatusCode)
		return false
	}
	return true
}

type actionRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// call rate limits, sends one action and decodes the response. A body that
// cannot be decoded yields a nil document and no error.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (any, error) {
	ctx, span := c.tracer.Start(ctx, "tebra."+method, trace.WithAttributes(attribute.String("tebra.method", method)))
	defer span.End()

	if err := c.limiter.Wait(ctx, method); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tebra: %s: rate limit wait: %w", method, err)
	}

	start := time.Now()
	doc, status, err := c.send(ctx, method, params)
	c.metrics.ObserveProxyRequest(method, status, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return doc, nil
}

func (c *Client) send(ctx context.Context, method string, params map[string]any) (any, string, error) {
	body, err := json.Marshal(actionRequest{Action: method, Params: params})
	if err != nil {
		return nil, "error", fmt.Errorf("tebra: %s: marshal request: %w", method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", body)
	if err != nil {
		return nil, "error", fmt.Errorf("tebra: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req.Request); err != nil {
		return nil, "auth_error", fmt.Errorf("tebra: %s: %w", method, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "error", fmt.Errorf("tebra: %s: request failed: %w", method, err)
	}
	defer resp.Body.Close()
	status := strconv.Itoa(resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, status, fmt.Errorf("tebra: %s: read response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, status, fmt.Errorf("tebra: %s: status %d: %s", method, resp.StatusCode, msg)
	}

	doc, err := envelope.Decode(data)
	if err != nil {
		c.logger.Warn("tebra proxy returned an unreadable payload, treating as empty",
			"method", method,
			"error", err,
			"bytes", len(data),
		)
		return nil, status, nil
	}
	if msg, failed := upstreamFailure(doc); failed {
		return nil, status, fmt.Errorf("%w: %s: %s", ErrUpstream, method, msg)
	}
	return doc, status, nil
}

// authorize attaches the identity token and the optional API key. The token
// source is created on first use.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	ts, err := c.identityTokens(ctx)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("mint identity token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return nil
}

func (c *Client) identityTokens(ctx context.Context) (oauth2.TokenSource, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.tokenSource != nil {
		return c.tokenSource, nil
	}
	ts, err := c.newTokenSource(context.WithoutCancel(ctx), c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create identity token source: %w", err)
	}
	c.tokenSource = oauth2.ReuseTokenSource(nil, ts)
	return c.tokenSource, nil
}

func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q is not YYYY-MM-DD", ErrValidation, field, value)
	}
	return t, nil
}
