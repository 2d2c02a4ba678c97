// Package service implements the proxy engine: the request phase through
// the middleware chain, the upstream call, and the response phase back
// through the chain in reverse.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kubeware-go/internal/metrics"
	"kubeware-go/internal/model"
	"kubeware-go/internal/verdict"
)

// Upstream forwards a request to the backend. *client.UpstreamClient implements it.
type Upstream interface {
	Forward(ctx context.Context, req *model.Request) (*model.Response, error)
}

// State is a step of the per-request state machine.
type State int

const (
	StateReceived State = iota
	StateRequestPhase
	StateStopped
	StateForwarding
	StateResponsePhase
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateRequestPhase:
		return "REQUEST_PHASE"
	case StateStopped:
		return "STOPPED"
	case StateForwarding:
		return "FORWARDING"
	case StateResponsePhase:
		return "RESPONSE_PHASE"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the result of one pass through the engine. Response is
// always set.
type Outcome struct {
	Response *model.Response
	// States lists every state the request went through, in order.
	States []State
	// StoppedBy names the middleware whose STOP verdict produced Response.
	StoppedBy string
	// Forwarded reports whether the upstream answered; BackendElapsed is
	// only meaningful when it did.
	Forwarded      bool
	BackendElapsed time.Duration
	// Err is the failure behind a synthesized error response.
	Err error
}

// State returns the final state.
func (o *Outcome) State() State {
	return o.States[len(o.States)-1]
}

func (o *Outcome) enter(s State) { o.States = append(o.States, s) }

// ProxyService runs requests through the middleware chain and the upstream.
// It is safe for concurrent use; each request keeps the chain it started with.
type ProxyService struct {
	chain      atomic.Pointer[Chain]
	upstream   Upstream
	applicator *verdict.Applicator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// NewProxyService creates a ProxyService. stopStatus is the status of a
// STOP verdict without a status code (0 selects verdict.DefaultStopStatus).
// The metrics parameter is optional.
func NewProxyService(chain *Chain, up Upstream, stopStatus int, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	s := &ProxyService{
		upstream:   up,
		applicator: verdict.New(stopStatus),
		logger:     logger.With("component", "proxy_service"),
		metrics:    m,
		tracer:     otel.Tracer("kubeware-go/internal/service"),
	}
	if chain == nil {
		chain = NewChain()
	}
	s.chain.Store(chain)
	return s
}

// Chain returns the chain new requests will use.
func (s *ProxyService) Chain() *Chain {
	return s.chain.Load()
}

// SwapChain installs next for subsequent requests and returns the previous
// chain. Requests already running finish on the previous chain.
func (s *ProxyService) SwapChain(next *Chain) *Chain {
	return s.chain.Swap(next)
}

// Handle runs req through the engine. It never returns a nil response:
// every failure is converted into a response the caller can send.
func (s *ProxyService) Handle(ctx context.Context, req *model.Request) *Outcome {
	chain := s.chain.Load()
	out := &Outcome{States: []State{StateReceived}}

	if err := validateRequest(req); err != nil {
		return s.fail(out, err)
	}

	// Request phase: ascending order.
	out.enter(StateRequestPhase)
	current := req
	for _, m := range chain.members {
		if !m.Request {
			continue
		}
		v, err := s.call(ctx, m, model.PhaseRequest, func(ctx context.Context) (*model.Verdict, error) {
			return m.Caller.CallRequestPhase(ctx, current, m.Timeout)
		})
		if err != nil {
			if s.skip(m, model.PhaseRequest, err) {
				continue
			}
			return s.fail(out, err)
		}

		next, stop := s.applicator.ApplyRequest(current, v)
		if stop != nil {
			out.enter(StateStopped)
			out.enter(StateComplete)
			out.Response = stop
			out.StoppedBy = m.Name()
			return out
		}
		current = next
	}

	out.enter(StateForwarding)
	start := time.Now()
	resp, err := s.upstream.Forward(ctx, current)
	if err != nil {
		s.logger.Error("upstream call failed", "uri", current.URI, "error", err)
		return s.fail(out, err)
	}
	out.Forwarded = true
	out.BackendElapsed = time.Since(start)

	// Response phase: descending order.
	out.enter(StateResponsePhase)
	for i := len(chain.members) - 1; i >= 0; i-- {
		m := chain.members[i]
		if !m.Response {
			continue
		}
		v, err := s.call(ctx, m, model.PhaseResponse, func(ctx context.Context) (*model.Verdict, error) {
			return m.Caller.CallResponsePhase(ctx, current, resp, m.Timeout)
		})
		if err != nil {
			if s.skip(m, model.PhaseResponse, err) {
				continue
			}
			return s.fail(out, err)
		}

		next, stopped := s.applicator.ApplyResponse(resp, v)
		resp = next
		if stopped {
			out.StoppedBy = m.Name()
			break
		}
	}

	out.enter(StateComplete)
	out.Response = resp
	return out
}

// call invokes one member inside a span and records its latency and verdict.
func (s *ProxyService) call(ctx context.Context, m Member, phase model.Phase, fn func(context.Context) (*model.Verdict, error)) (*model.Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "middleware."+string(phase),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kubeware.middleware", m.Name()),
			attribute.String("kubeware.phase", string(phase)),
		),
	)
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)

	label := verdictLabel(v, err)
	span.SetAttributes(attribute.String("kubeware.verdict", label))
	if s.metrics != nil {
		s.metrics.MiddlewareDuration.WithLabelValues(m.Name(), string(phase)).Observe(elapsed.Seconds())
		s.metrics.MiddlewareVerdicts.WithLabelValues(m.Name(), string(phase), label).Inc()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
		return nil, &model.MiddlewareError{Middleware: m.Name(), Phase: phase, Err: err}
	}

	s.logger.Debug("middleware call",
		"middleware", m.Name(),
		"phase", phase,
		"verdict", label,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return v, nil
}

// skip applies the member's failure policy. Protocol errors are never skipped.
func (s *ProxyService) skip(m Member, phase model.Phase, err error) bool {
	if m.FailOpen && errors.Is(err, model.ErrMiddlewareUnreachable) {
		s.logger.Warn("middleware unreachable, skipping",
			"middleware", m.Name(),
			"phase", phase,
			"error", err,
		)
		return true
	}
	s.logger.Error("middleware call failed",
		"middleware", m.Name(),
		"phase", phase,
		"error", err,
	)
	return false
}

func (s *ProxyService) fail(out *Outcome, err error) *Outcome {
	out.enter(StateFailed)
	out.Err = err
	out.Response = ErrorResponse(err)
	return out
}

func validateRequest(req *model.Request) error {
	if req == nil {
		return fmt.Errorf("%w: no request", model.ErrInvalidRequest)
	}
	if req.Method == "" {
		return fmt.Errorf("%w: empty method", model.ErrInvalidRequest)
	}
	if !strings.HasPrefix(req.URI, "/") {
		return fmt.Errorf("%w: uri %q is not origin-form", model.ErrInvalidRequest, req.URI)
	}
	return nil
}

func verdictLabel(v *model.Verdict, err error) string {
	switch {
	case errors.Is(err, model.ErrMiddlewareProtocol):
		return "protocol_error"
	case err != nil:
		return "unreachable"
	default:
		return v.Status.String()
	}
}

// ErrorResponse maps an engine error to the plain-text response sent to
// the caller. Raw error text is never exposed.
func ErrorResponse(err error) *model.Response {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrMiddlewareProtocol):
		status = http.StatusBadGateway
	case errors.Is(err, model.ErrMiddlewareUnreachable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrUpstreamTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, model.ErrUpstreamUnreachable):
		status = http.StatusBadGateway
	}
	return model.TextResponse(status, http.StatusText(status))
}
