// Package transport is the HTTP adapter every SDK call goes through.
//
// A Client wraps a resty client configured for the Commcell web service: the
// Authtoken header, TLS settings, a pooled transport, retries on 429 and 5xx for
// idempotent methods, and optional rate limiting, circuit breaking, Prometheus
// request metrics and OpenTelemetry client spans.
//
// Do returns a *Response only for 2xx statuses. Any other status, and any
// network failure, is returned as a Response/101 *sdkerrors.Error carrying the
// raw body.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Commvault/cvpysdk-sub002/internal/telemetry"
	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

const (
	defaultTimeout = 2 * time.Minute

	retryWaitTime    = 5 * time.Second
	retryMaxWaitTime = 60 * time.Second

	maxIdleConns        = 100
	maxIdleConnsPerHost = 20
	idleConnTimeout     = 90 * time.Second

	closeTimeout = 30 * time.Second
)

// HTTP header names used on Commcell requests.
const (
	HeaderAccept      = "Accept"
	HeaderContentType = "Content-Type"
	HeaderAuthToken   = "Authtoken"
	HeaderRequestID   = "X-Request-ID"

	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// Config holds the connection settings for a Client.
type Config struct {
	BaseURL            string
	AuthToken          string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RetryCount         int
	// RetryWait is the initial backoff between retries; 5s when unset.
	RetryWait time.Duration
}

// ClientOption configures optional Client settings.
type ClientOption func(*clientOptions)

type clientOptions struct {
	tracerProvider trace.TracerProvider
	registerer     prometheus.Registerer
	limiter        *rate.Limiter
	breaker        *gobreaker.Settings
}

// WithTracerProvider sets the TracerProvider used for client spans.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithMetrics registers request counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(o *clientOptions) {
		o.registerer = reg
	}
}

// WithRateLimit caps outgoing requests at rps per second with the given burst.
// rps <= 0 leaves requests unlimited.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(o *clientOptions) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker stops sending requests after consecutive failures
// (network errors or 5xx) until the timeout has elapsed.
func WithCircuitBreaker(consecutiveFailures uint32, timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.breaker = &gobreaker.Settings{
			Name:        "commcell",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= consecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
					Warn("circuit breaker state changed")
			},
		}
	}
}

// Client sends requests to the Commcell web service.
type Client struct {
	client  *resty.Client
	cfg     Config
	tracing *TracerWrapper
	metrics *requestMetrics
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*resty.Response]

	mu         sync.Mutex
	activeReqs int32
	closed     bool
	closeChan  chan struct{}
}

var errServerStatus = errors.New("server error status")

// NewClient creates a Client for cfg.
//
// The client is configured with:
//   - TLS 1.2 minimum, verification controlled by cfg.InsecureSkipVerify
//   - cfg.Timeout per request (2 minutes when unset)
//   - cfg.RetryCount retries on 429/5xx for GET, PUT, DELETE and HEAD
//   - goccy/go-json as the JSON codec
func NewClient(cfg Config, opts ...ClientOption) *Client {
	var options clientOptions
	for _, opt := range opts {
		opt(&options)
	}

	if cfg.InsecureSkipVerify {
		log.Error("SECURITY WARNING: TLS certificate verification disabled - this is insecure for production use")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = retryWaitTime
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetHeader(HeaderAccept, ContentTypeJSON).
		SetHeader(HeaderContentType, ContentTypeJSON).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		AddRetryCondition(retryable)
	if cfg.AuthToken != "" {
		client.SetHeader(HeaderAuthToken, cfg.AuthToken)
	}

	httpClient := client.GetClient()
	httpClient.Transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}

	c := &Client{
		client:  client,
		cfg:     cfg,
		tracing: NewTracerWrapper(options.tracerProvider, "cvsdk/http-client"),
		limiter: options.limiter,
	}
	if options.registerer != nil {
		c.metrics = newRequestMetrics(options.registerer)
	}
	if options.breaker != nil {
		c.breaker = gobreaker.NewCircuitBreaker[*resty.Response](*options.breaker)
	}
	return c
}

// retryable retries network errors, 429 and 5xx, but never replays a POST:
// task-creation calls are not idempotent on the server.
func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil {
		return err != nil
	}
	switch r.Request.Method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return false
	}
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
}

// Do sends req and returns the response when the status is 2xx.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	ctx, span := c.tracing.StartSpan(ctx, "commcell.request", trace.SpanKindClient)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			recordError(span, err)
			return nil, sdkerrors.TransportErr(err)
		}
	}

	headers := map[string]string{HeaderRequestID: uuid.NewString()}
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers = injectTraceContext(ctx, headers)

	start := time.Now()
	resp, err := c.execute(ctx, req, headers)
	elapsed := time.Since(start)

	fields := log.Fields{"method": req.Method, "path": req.Path, "request_id": headers[HeaderRequestID]}
	if err != nil {
		c.metrics.observe(req.Method, 0, elapsed)
		recordError(span, err)
		log.WithFields(fields).WithError(err).Debug("commcell request failed")
		return nil, sdkerrors.TransportErr(err)
	}

	c.metrics.observe(req.Method, resp.StatusCode(), elapsed)
	recordHTTPAttributes(span, req.Method, req.Path, resp.StatusCode(), int64(len(resp.Body())), elapsed)
	log.WithFields(fields).WithField("status", resp.StatusCode()).Debug("commcell request completed")

	if !resp.IsSuccess() {
		err := sdkerrors.Transport(string(resp.Body()))
		recordError(span, fmt.Errorf("status %d", resp.StatusCode()))
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

func (c *Client) execute(ctx context.Context, req Request, headers map[string]string) (*resty.Response, error) {
	call := func() (*resty.Response, error) {
		r := c.client.R().SetContext(ctx).SetHeaders(headers)
		if req.Body != nil {
			r.SetBody(req.Body)
		}
		resp, err := r.Execute(req.Method, req.Path)
		if err == nil && resp.StatusCode() >= 500 {
			return resp, errServerStatus
		}
		return resp, err
	}

	var (
		resp *resty.Response
		err  error
	)
	if c.breaker != nil {
		resp, err = c.breaker.Execute(call)
	} else {
		resp, err = call()
	}
	if errors.Is(err, errServerStatus) {
		return resp, nil
	}
	return resp, err
}

// BreakerState reports the circuit breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sdkerrors.TransportErr(errors.New("client is closed"))
	}
	atomic.AddInt32(&c.activeReqs, 1)
	return nil
}

func (c *Client) end() {
	if atomic.AddInt32(&c.activeReqs, -1) == 0 {
		c.mu.Lock()
		if c.closed && c.closeChan != nil {
			close(c.closeChan)
			c.closeChan = nil
		}
		c.mu.Unlock()
	}
}

func recordHTTPAttributes(span trace.Span, method, path string, statusCode int, responseSize int64, duration time.Duration) {
	span.SetAttributes(
		attribute.String(telemetry.AttrHTTPMethod, method),
		attribute.String(telemetry.AttrCommcellPath, path),
		attribute.Int(telemetry.AttrHTTPStatusCode, statusCode),
		attribute.Int64(telemetry.AttrHTTPResponseContentLength, responseSize),
		attribute.Float64(telemetry.AttrHTTPDurationMS, float64(duration.Milliseconds())),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(telemetry.AttrError, err.Error()))
}

// injectTraceContext adds W3C trace context headers for the span in ctx.
func injectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	result := make(map[string]string, len(carrier))
	for k, v := range carrier {
		result[k] = v
	}
	return result
}

// Close waits up to 30 seconds for active requests, then releases idle
// connections.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := c.CloseWithContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// CloseWithContext is Close with caller-controlled waiting.
func (c *Client) CloseWithContext(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client already closed")
	}
	c.closed = true

	activeCount := atomic.LoadInt32(&c.activeReqs)
	if activeCount > 0 {
		c.closeChan = make(chan struct{})
		ch := c.closeChan
		c.mu.Unlock()

		select {
		case <-ch:
			log.Debug("All active requests completed during shutdown")
		case <-ctx.Done():
			log.Warnf("Context cancelled while waiting for %d active requests", activeCount)
			c.client.GetClient().CloseIdleConnections()
			return ctx.Err()
		}
	} else {
		c.mu.Unlock()
	}

	c.client.GetClient().CloseIdleConnections()
	return nil
}
