// Package rpc implements the gRPC channel between the gateway and its
// middleware: the kubeware.Middleware wire messages, the client used by the
// proxy engine, and a server adapter for middleware written in Go.
package rpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/net/http/httpguts"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"kubeware-go/internal/model"
)

const (
	serviceName          = "kubeware.Middleware"
	methodHandleRequest  = "/" + serviceName + "/HandleRequest"
	methodHandleResponse = "/" + serviceName + "/HandleResponse"
)

// Client calls one middleware endpoint.
type Client struct {
	name   string
	target string
	conn   *grpc.ClientConn
}

// NewClient creates a client for the middleware at rawURL. The connection
// is established lazily on the first call and re-established by gRPC after
// failures. http:// and scheme-less addresses use plaintext; https:// uses
// TLS. Extra dial options are appended after the defaults.
func NewClient(name, rawURL string, opts ...grpc.DialOption) (*Client, error) {
	target, secure, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("middleware %s: create client for %s: %w", name, target, err)
	}

	return &Client{name: name, target: target, conn: conn}, nil
}

// ParseTarget turns a configured middleware URL into a gRPC dial target.
func ParseTarget(rawURL string) (target string, secure bool, err error) {
	if !strings.Contains(rawURL, "://") {
		if rawURL == "" {
			return "", false, errors.New("empty middleware address")
		}
		return rawURL, false, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("parse middleware url %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("middleware url %q has no host", rawURL)
	}

	switch u.Scheme {
	case "http", "grpc":
		return u.Host, false, nil
	case "https", "grpcs":
		return u.Host, true, nil
	default:
		return "", false, fmt.Errorf("middleware url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
}

// Name returns the configured middleware name.
func (c *Client) Name() string { return c.name }

// Target returns the gRPC dial target.
func (c *Client) Target() string { return c.target }

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CallRequestPhase sends HandleRequest for req and returns the verdict.
// Transport failures and timeouts wrap model.ErrMiddlewareUnreachable;
// malformed verdicts wrap model.ErrMiddlewareProtocol.
func (c *Client) CallRequestPhase(ctx context.Context, req *model.Request, timeout time.Duration) (*model.Verdict, error) {
	in := &RequestRequest{
		Method:  req.Method,
		URI:     req.URI,
		Headers: req.Headers,
		Body:    string(req.Body),
	}

	out := new(VerdictMessage)
	if err := c.invoke(ctx, methodHandleRequest, in, out, timeout); err != nil {
		return nil, err
	}
	return out.Verdict()
}

// CallResponsePhase sends HandleResponse for the req/resp pair.
func (c *Client) CallResponsePhase(ctx context.Context, req *model.Request, resp *model.Response, timeout time.Duration) (*model.Verdict, error) {
	in := &ResponseRequest{
		Method:          req.Method,
		URI:             req.URI,
		RequestHeaders:  req.Headers,
		ResponseHeaders: resp.Headers,
		RequestBody:     string(req.Body),
		ResponseBody:    string(resp.Body),
		StatusCode:      int32(resp.StatusCode),
	}

	out := new(VerdictMessage)
	if err := c.invoke(ctx, methodHandleResponse, in, out, timeout); err != nil {
		return nil, err
	}
	return out.Verdict()
}

func (c *Client) invoke(ctx context.Context, method string, in, out message, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx = injectTraceContext(ctx)
	err := c.conn.Invoke(ctx, method, in, out)
	if err == nil {
		return nil
	}

	switch status.Code(err) {
	case codes.Internal, codes.Unimplemented, codes.DataLoss:
		return fmt.Errorf("%w: %w", model.ErrMiddlewareProtocol, err)
	default:
		return fmt.Errorf("%w: %w", model.ErrMiddlewareUnreachable, err)
	}
}

// injectTraceContext copies the active trace context into outgoing gRPC
// metadata so middleware can join the gateway's trace.
func injectTraceContext(ctx context.Context) context.Context {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return ctx
	}
	kv := make([]string, 0, 2*len(carrier))
	for k, v := range carrier {
		kv = append(kv, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, kv...)
}

// Verdict validates m and converts it into a model.Verdict.
func (m *VerdictMessage) Verdict() (*model.Verdict, error) {
	st := model.VerdictStatus(m.Status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", model.ErrMiddlewareProtocol, m.Status)
	}

	for _, h := range m.AddedHeaders {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return nil, fmt.Errorf("%w: invalid header name %q", model.ErrMiddlewareProtocol, h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return nil, fmt.Errorf("%w: invalid value for header %q", model.ErrMiddlewareProtocol, h.Name)
		}
	}
	for _, name := range m.RemovedHeaders {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid removed header name %q", model.ErrMiddlewareProtocol, name)
		}
	}

	v := &model.Verdict{
		Status:         st,
		AddedHeaders:   m.AddedHeaders,
		RemovedHeaders: m.RemovedHeaders,
		Body:           m.Body,
	}
	if m.StatusCode != nil {
		code := int(*m.StatusCode)
		if code < 200 || code > 599 {
			return nil, fmt.Errorf("%w: status code %d out of range", model.ErrMiddlewareProtocol, code)
		}
		v.StatusCode = &code
	}
	return v, nil
}

// NewVerdictMessage converts a verdict into its wire form.
func NewVerdictMessage(v *model.Verdict) *VerdictMessage {
	m := &VerdictMessage{
		Status:         int32(v.Status),
		AddedHeaders:   v.AddedHeaders,
		RemovedHeaders: v.RemovedHeaders,
		Body:           v.Body,
	}
	if v.StatusCode != nil {
		code := int32(*v.StatusCode)
		m.StatusCode = &code
	}
	return m
}

// Request converts a HandleRequest input back into a model.Request.
func (m *RequestRequest) Request() *model.Request {
	return &model.Request{
		Method:  m.Method,
		URI:     m.URI,
		Headers: m.Headers,
		Body:    []byte(m.Body),
	}
}

// Request returns the request half of a HandleResponse input.
func (m *ResponseRequest) Request() *model.Request {
	return &model.Request{
		Method:  m.Method,
		URI:     m.URI,
		Headers: m.RequestHeaders,
		Body:    []byte(m.RequestBody),
	}
}

// Response returns the response half of a HandleResponse input. A missing
// status code defaults to 200.
func (m *ResponseRequest) Response() *model.Response {
	code := int(m.StatusCode)
	if code == 0 {
		code = http.StatusOK
	}
	return &model.Response{
		StatusCode: code,
		Headers:    m.ResponseHeaders,
		Body:       []byte(m.ResponseBody),
	}
}
