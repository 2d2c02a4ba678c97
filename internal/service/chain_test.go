package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"kubeware-go/internal/config"
	"kubeware-go/internal/model"
	"kubeware-go/internal/rpc"
	"kubeware-go/internal/rpc/rpctest"
)

func boolPtr(b bool) *bool { return &b }

func TestBuildChain(t *testing.T) {
	authn := rpctest.Start(t, rpctest.Funcs{
		Request: func(_ context.Context, in *rpc.RequestRequest) (*rpc.VerdictMessage, error) {
			if in.Headers.Get("authorization") == "" {
				return rpctest.Stop(http.StatusUnauthorized, "No credentials"), nil
			}
			return rpctest.Success(), nil
		},
	})
	audit := rpctest.Start(t, rpctest.Funcs{})

	chain, err := BuildChain([]config.MiddlewareConfig{
		{Name: "authn", URL: authn.URL(), Request: boolPtr(true), Response: boolPtr(false), TimeoutMS: 2000, FailurePolicy: config.FailClosed},
		{Name: "audit", URL: audit.Addr, Request: boolPtr(false), Response: boolPtr(true), TimeoutMS: 2000, FailurePolicy: config.FailOpen},
	})
	if err != nil {
		t.Fatalf("BuildChain() error = %v", err)
	}
	defer func() { _ = chain.Close() }()

	members := chain.Members()
	if len(members) != 2 || members[0].Name() != "authn" || members[1].Name() != "audit" {
		t.Fatalf("members = %+v", members)
	}
	if members[0].FailOpen || !members[1].FailOpen {
		t.Errorf("failure policies not applied: %+v", members)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewProxyService(chain, &fakeUpstream{}, 0, logger, nil)

	out := s.Handle(context.Background(), getRequest())
	if out.Response.StatusCode != http.StatusUnauthorized || string(out.Response.Body) != "No credentials" {
		t.Errorf("Response = %d %q, want 401 No credentials", out.Response.StatusCode, out.Response.Body)
	}

	req := getRequest()
	req.Headers = req.Headers.With(model.Header{Name: "Authorization", Value: "Basic x"})
	out = s.Handle(context.Background(), req)
	if out.Response.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", out.Response.StatusCode)
	}
	if audit.ResponseCalls() != 1 || audit.RequestCalls() != 0 {
		t.Errorf("audit calls = %d/%d, want 0 request, 1 response", audit.RequestCalls(), audit.ResponseCalls())
	}
}

func TestBuildChain_InvalidURL(t *testing.T) {
	_, err := BuildChain([]config.MiddlewareConfig{{Name: "bad", URL: "ftp://mw:21"}})
	if err == nil {
		t.Fatal("BuildChain() expected error for unsupported scheme, got nil")
	}
}

func TestChain_MembersIsACopy(t *testing.T) {
	c := NewChain(both(&fakeMiddleware{name: "a"}))
	m := c.Members()
	m[0].FailOpen = true

	if c.Members()[0].FailOpen {
		t.Error("Members() exposed internal state")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}
