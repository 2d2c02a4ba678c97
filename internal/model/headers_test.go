package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHeaders_CaseInsensitiveLookup(t *testing.T) {
	h := Headers{
		{Name: "Authorization", Value: "Basic abc"},
		{Name: "x-tag", Value: "1"},
		{Name: "X-Tag", Value: "2"},
	}

	if got := h.Get("authorization"); got != "Basic abc" {
		t.Errorf("Get(authorization) = %q, want %q", got, "Basic abc")
	}
	if !h.Has("AUTHORIZATION") {
		t.Error("Has(AUTHORIZATION) = false, want true")
	}
	if got := h.Values("X-TAG"); len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Errorf("Values(X-TAG) = %v, want [1 2]", got)
	}
	if h.Get("missing") != "" {
		t.Error("Get(missing) should be empty")
	}
}

func TestHeaders_WithoutRemovesEveryCase(t *testing.T) {
	h := Headers{
		{Name: "Authorization", Value: "a"},
		{Name: "authorization", Value: "b"},
		{Name: "Accept", Value: "*/*"},
	}

	got := h.Without("AUTHORIZATION")
	if len(got) != 1 || got[0].Name != "Accept" {
		t.Fatalf("Without() = %v, want only Accept", got)
	}
	if len(h) != 3 {
		t.Errorf("Without() modified receiver: len = %d, want 3", len(h))
	}
}

func TestHeaders_WithAppends(t *testing.T) {
	h := Headers{{Name: "user", Value: "a"}}
	got := h.With(Header{Name: "User", Value: "b"})

	if vals := got.Values("user"); len(vals) != 2 {
		t.Errorf("Values(user) = %v, want two values", vals)
	}
	if len(h) != 1 {
		t.Errorf("With() modified receiver: len = %d, want 1", len(h))
	}
}

func TestHeadersFromHTTP_SortedAndRoundTrips(t *testing.T) {
	src := http.Header{
		"X-B":    {"2"},
		"Accept": {"text/plain"},
		"X-A":    {"1", "one"},
	}

	h := HeadersFromHTTP(src)
	want := []string{"Accept", "X-A", "X-A", "X-B"}
	if len(h) != len(want) {
		t.Fatalf("len = %d, want %d", len(h), len(want))
	}
	for i, name := range want {
		if h[i].Name != name {
			t.Errorf("h[%d].Name = %q, want %q", i, h[i].Name, name)
		}
	}

	back := h.HTTP()
	if vals := back.Values("X-A"); len(vals) != 2 || vals[1] != "one" {
		t.Errorf("HTTP() X-A = %v, want [1 one]", vals)
	}
}

func TestRequestClone_Independent(t *testing.T) {
	r := &Request{Method: "POST", URI: "/x", Headers: Headers{{Name: "a", Value: "1"}}, Body: []byte("body")}
	c := r.Clone()
	c.Headers[0].Value = "2"
	c.Body[0] = 'B'

	if r.Headers[0].Value != "1" || string(r.Body) != "body" {
		t.Error("Clone() shares storage with the original")
	}
}

func TestMiddlewareError_Unwrap(t *testing.T) {
	err := fmt.Errorf("call: %w", &MiddlewareError{
		Middleware: "authn",
		Phase:      PhaseRequest,
		Err:        ErrMiddlewareUnreachable,
	})

	if !errors.Is(err, ErrMiddlewareUnreachable) {
		t.Error("errors.Is(err, ErrMiddlewareUnreachable) = false")
	}
	var me *MiddlewareError
	if !errors.As(err, &me) || me.Middleware != "authn" {
		t.Errorf("errors.As() middleware = %v", me)
	}
}

func TestVerdictStatus_String(t *testing.T) {
	tests := []struct {
		s    VerdictStatus
		want string
	}{
		{StatusSuccess, "SUCCESS"},
		{StatusContinue, "CONTINUE"},
		{StatusStop, "STOP"},
		{VerdictStatus(9), "VerdictStatus(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
	if VerdictStatus(9).Valid() {
		t.Error("VerdictStatus(9).Valid() = true")
	}
}

func TestHeaders_WithoutHopByHop(t *testing.T) {
	h := Headers{
		{Name: "Connection", Value: "keep-alive, X-Session"},
		{Name: "X-Session", Value: "abc"},
		{Name: "transfer-encoding", Value: "chunked"},
		{Name: "Content-Type", Value: "application/json"},
	}

	got := h.WithoutHopByHop()
	if len(got) != 1 || got[0].Name != "Content-Type" {
		t.Errorf("WithoutHopByHop() = %v, want only Content-Type", got)
	}
}
