// Package client provides the HTTP client for the single upstream backend.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"kubeware-go/internal/config"
	"kubeware-go/internal/metrics"
	"kubeware-go/internal/model"
)

// UpstreamClient forwards requests to the configured backend.
type UpstreamClient struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	var transport http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if cfg.Tracing.Enabled {
		transport = otelhttp.NewTransport(transport)
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are the caller's business, not the gateway's.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimSuffix(cfg.Backend.URL, "/"),
		timeout: cfg.Backend.Timeout(),
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// BaseURL returns the backend URL requests are forwarded to.
func (c *UpstreamClient) BaseURL() string { return c.baseURL }

// Forward sends req to the backend and reads the full response.
// A timeout is reported as model.ErrUpstreamTimeout, every other failure
// as model.ErrUpstreamUnreachable.
func (c *UpstreamClient) Forward(ctx context.Context, req *model.Request) (*model.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.URI, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", model.ErrUpstreamUnreachable, err)
	}
	httpReq.Header = req.Headers.WithoutHopByHop().HTTP()
	httpReq.Header.Del("Content-Length")
	httpReq.ContentLength = int64(len(req.Body))
	if len(req.Body) == 0 {
		httpReq.Body = http.NoBody
	}
	if host := req.Headers.Get("Host"); host != "" {
		httpReq.Host = host
		httpReq.Header.Del("Host")
	}

	c.logger.Debug("upstream request",
		"method", req.Method,
		"uri", req.URI,
	)

	method := metrics.NormalizeMethod(req.Method)
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe(method, start, "")
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(method, start, "")
		return nil, classify(ctx, fmt.Errorf("read body: %w", err))
	}
	c.observe(method, start, strconv.Itoa(resp.StatusCode))

	// A HEAD response has no body, so its Content-Length is the only record
	// of the representation size and is kept.
	headers := model.HeadersFromHTTP(resp.Header).WithoutHopByHop()
	if req.Method != http.MethodHead {
		headers = headers.Without("Content-Length")
	}
	return &model.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

func (c *UpstreamClient) observe(method string, start time.Time, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if status != "" {
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}
}

func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamUnreachable, err)
}
