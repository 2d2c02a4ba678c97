package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"kubeware-go/internal/metrics"
)

// requestCounts returns kubeware_http_requests_total keyed by
// "method status_code route".
func requestCounts(t *testing.T, m *metrics.Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	out := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "kubeware_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			key := strings.Join([]string{labels["method"], labels["status_code"], labels["route"]}, " ")
			out[key] = metric.GetCounter().GetValue()
		}
	}
	return out
}

// newGatewayEcho mirrors the gateway's routing: admin handlers under
// /_kubeware and a catch-all for everything that gets proxied.
func newGatewayEcho(m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.Use(MetricsMiddleware(m))

	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	admin := e.Group("/_kubeware")
	admin.GET("/healthz", ok)
	admin.GET("/status", ok)
	admin.GET("/metrics", ok)
	e.Any("/", ok)
	e.Any("/*", ok)
	return e
}

func TestMetricsMiddleware_RouteLabels(t *testing.T) {
	tests := []struct {
		path  string
		route string
	}{
		{"/_kubeware/healthz", "/_kubeware/healthz"},
		{"/_kubeware/status", "/_kubeware/status"},
		{"/_kubeware/metrics", "/_kubeware/metrics"},
		{"/_kubeware/unknown", "admin"},
		{"/", "proxy"},
		{"/v2/endpoint", "proxy"},
		{"/healthz", "proxy"},
		{"/_kubewarez/status", "proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m := metrics.New()
			e := newGatewayEcho(m)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			counts := requestCounts(t, m)
			if len(counts) != 1 {
				t.Fatalf("series = %v, want exactly one", counts)
			}
			key := "GET " + strconv.Itoa(rec.Code) + " " + tt.route
			if counts[key] != 1 {
				t.Errorf("series = %v, want %q = 1", counts, key)
			}
		})
	}
}

func TestMetricsMiddleware_ProxiedPathsShareOneSeries(t *testing.T) {
	m := metrics.New()
	e := newGatewayEcho(m)

	for _, path := range []string{"/a", "/b/c", "/users/42?x=1", "/healthz"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	counts := requestCounts(t, m)
	if counts["GET 200 proxy"] != 4 || len(counts) != 1 {
		t.Errorf("series = %v, want only GET 200 proxy = 4", counts)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()
	e := newGatewayEcho(m)

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/_kubeware/healthz", http.NoBody))

	var out dto.Metric
	h := m.RequestDuration.WithLabelValues("GET", "200", "/_kubeware/healthz").(prometheus.Histogram)
	if err := h.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := out.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestMetricsMiddleware_InFlight(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	var during float64
	e.Any("/*", func(c echo.Context) error {
		var out dto.Metric
		if err := m.RequestsInFlight.Write(&out); err != nil {
			return err
		}
		during = out.GetGauge().GetValue()
		return c.NoContent(http.StatusNoContent)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload", http.NoBody))

	var after dto.Metric
	if err := m.RequestsInFlight.Write(&after); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if during != 1 || after.GetGauge().GetValue() != 0 {
		t.Errorf("in flight during/after = %v/%v, want 1/0", during, after.GetGauge().GetValue())
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/*", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream gone")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v2/endpoint", http.NoBody))

	if counts := requestCounts(t, m); counts["GET 502 proxy"] != 1 {
		t.Errorf("series = %v, want GET 502 proxy = 1", counts)
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()
	e := newGatewayEcho(m)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest("XYZZY", "/v2/endpoint", http.NoBody))

	key := "other " + strconv.Itoa(rec.Code) + " proxy"
	if counts := requestCounts(t, m); counts[key] != 1 {
		t.Errorf("series = %v, want %q = 1", counts, key)
	}
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	// No routes registered; request should yield 404.

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_kubeware/nonexistent", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if counts := requestCounts(t, m); counts["GET 404 admin"] != 1 {
		t.Errorf("series = %v, want GET 404 admin = 1", counts)
	}
}
