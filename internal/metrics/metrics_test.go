package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Vec collectors only show up once a label set has been observed.
	m.RequestsTotal.WithLabelValues("GET", "200", "proxy").Inc()
	m.MiddlewareVerdicts.WithLabelValues("authn", "request", "STOP").Inc()
	m.MiddlewareDuration.WithLabelValues("authn", "request").Observe(0.002)

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"kubeware_http_requests_total":              false,
		"kubeware_middleware_verdicts_total":        false,
		"kubeware_middleware_call_duration_seconds": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestMiddlewareVerdicts_Count(t *testing.T) {
	m := New()

	m.MiddlewareVerdicts.WithLabelValues("authn", "request", "STOP").Inc()
	m.MiddlewareVerdicts.WithLabelValues("authn", "request", "STOP").Inc()
	m.MiddlewareVerdicts.WithLabelValues("authn", "response", "SUCCESS").Inc()

	var out dto.Metric
	if err := m.MiddlewareVerdicts.WithLabelValues("authn", "request", "STOP").Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := out.GetCounter().GetValue(); got != 2 {
		t.Errorf("STOP count = %v, want 2", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/_kubeware/healthz", "/_kubeware/healthz"},
		{"/_kubeware/status", "/_kubeware/status"},
		{"/_kubeware/metrics", "/_kubeware/metrics"},
		{"/_kubeware/metrics?x=1", "/_kubeware/metrics"},
		{"/_kubeware/other", "admin"},
		{"/", "proxy"},
		{"/v2/endpoint", "proxy"},
		{"/healthz", "proxy"},
		{"/_kubewarez", "proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
