// Package rpctest runs in-process middleware servers for tests.
package rpctest

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"kubeware-go/internal/model"
	"kubeware-go/internal/rpc"
)

// Funcs adapts plain functions to rpc.MiddlewareServer. A nil function
// answers with an empty SUCCESS verdict.
type Funcs struct {
	Request  func(ctx context.Context, in *rpc.RequestRequest) (*rpc.VerdictMessage, error)
	Response func(ctx context.Context, in *rpc.ResponseRequest) (*rpc.VerdictMessage, error)
}

// Server is a running middleware listening on a loopback port.
type Server struct {
	Addr string

	requestCalls  atomic.Int32
	responseCalls atomic.Int32
	funcs         Funcs
}

// Start serves f on 127.0.0.1 until the test ends.
func Start(t testing.TB, f Funcs) *Server {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{Addr: lis.Addr().String(), funcs: f}
	gs := rpc.NewServer()
	rpc.RegisterMiddlewareServer(gs, s)

	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	return s
}

// URL returns the address in the form used by the gateway config.
func (s *Server) URL() string { return "http://" + s.Addr }

// RequestCalls returns how many HandleRequest calls were served.
func (s *Server) RequestCalls() int { return int(s.requestCalls.Load()) }

// ResponseCalls returns how many HandleResponse calls were served.
func (s *Server) ResponseCalls() int { return int(s.responseCalls.Load()) }

func (s *Server) HandleRequest(ctx context.Context, in *rpc.RequestRequest) (*rpc.VerdictMessage, error) {
	s.requestCalls.Add(1)
	if s.funcs.Request == nil {
		return Success(), nil
	}
	return s.funcs.Request(ctx, in)
}

func (s *Server) HandleResponse(ctx context.Context, in *rpc.ResponseRequest) (*rpc.VerdictMessage, error) {
	s.responseCalls.Add(1)
	if s.funcs.Response == nil {
		return Success(), nil
	}
	return s.funcs.Response(ctx, in)
}

// Success is an empty SUCCESS verdict.
func Success() *rpc.VerdictMessage {
	return &rpc.VerdictMessage{Status: int32(model.StatusSuccess)}
}

// Stop builds a STOP verdict with a body and status code.
func Stop(status int, body string) *rpc.VerdictMessage {
	code := int32(status)
	return &rpc.VerdictMessage{
		Status:     int32(model.StatusStop),
		Body:       &body,
		StatusCode: &code,
	}
}

// AddHeader builds a SUCCESS verdict that appends one header.
func AddHeader(name, value string) *rpc.VerdictMessage {
	return &rpc.VerdictMessage{
		Status:       int32(model.StatusSuccess),
		AddedHeaders: model.Headers{{Name: name, Value: value}},
	}
}
