package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"kubeware-go/internal/config"
	"kubeware-go/internal/model"
	"kubeware-go/internal/service"
)

// Timing headers added to every proxied response when enabled.
const (
	HeaderKubewareTime = "x-kubeware-time"
	HeaderBackendTime  = "x-backend-time"
)

// ProxyHandler adapts echo requests to the proxy engine.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	bodyMax int64
	timing  bool
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		bodyMax: cfg.Server.BodyMaxBytes,
		timing:  cfg.Server.TimingHeadersEnabled(),
	}
}

// Handle runs the request through the middleware chain and the upstream,
// then writes whatever response the engine settled on.
func (h *ProxyHandler) Handle(c echo.Context) error {
	start := time.Now()
	req := c.Request()

	in, err := h.readRequest(c)
	if err != nil {
		h.logger.Warn("rejecting inbound request",
			"err", err,
			"path", req.URL.Path,
		)
		return h.write(c, service.ErrorResponse(err), start, nil)
	}

	out := h.service.Handle(req.Context(), in)
	if out.Err != nil {
		h.logger.Error("proxy error",
			"err", out.Err,
			"path", req.URL.Path,
			"status", out.Response.StatusCode,
		)
	}
	return h.write(c, out.Response, start, out)
}

// readRequest builds the chain's view of the inbound request. The body is
// read in full since middleware receive it as a single field.
func (h *ProxyHandler) readRequest(c echo.Context) (*model.Request, error) {
	req := c.Request()

	body := io.Reader(req.Body)
	if h.bodyMax > 0 {
		body = http.MaxBytesReader(c.Response(), req.Body, h.bodyMax)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", model.ErrInvalidRequest, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: read body: %w", model.ErrInvalidRequest, err)
	}

	return &model.Request{
		Method:  req.Method,
		URI:     req.URL.RequestURI(),
		Headers: model.HeadersFromHTTP(req.Header).WithoutHopByHop(),
		Body:    data,
	}, nil
}

func (h *ProxyHandler) write(c echo.Context, resp *model.Response, start time.Time, out *service.Outcome) error {
	header := c.Response().Header()
	for _, hd := range resp.Headers.WithoutHopByHop().Without("Content-Length") {
		header.Add(hd.Name, hd.Value)
	}
	header.Set(echo.HeaderContentLength, contentLength(c.Request().Method, resp))

	if h.timing {
		header.Set(HeaderKubewareTime, strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		if out != nil && out.Forwarded {
			header.Set(HeaderBackendTime, strconv.FormatInt(out.BackendElapsed.Milliseconds(), 10))
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if c.Request().Method == http.MethodHead || len(resp.Body) == 0 {
		return nil
	}
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
	return nil
}

// contentLength is the length of resp.Body, except for a bodiless HEAD
// response, which keeps the length reported by whoever produced it.
func contentLength(method string, resp *model.Response) string {
	if method == http.MethodHead && len(resp.Body) == 0 {
		if cl := resp.Headers.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
				return strconv.FormatInt(n, 10)
			}
		}
	}
	return strconv.Itoa(len(resp.Body))
}
