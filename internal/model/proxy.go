package model

import "bytes"

// Request is the inbound request as seen by the middleware chain.
// URI holds the path and, when present, the raw query.
type Request struct {
	Method  string
	URI     string
	Headers Headers
	Body    []byte
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	return &Request{
		Method:  r.Method,
		URI:     r.URI,
		Headers: r.Headers.Clone(),
		Body:    bytes.Clone(r.Body),
	}
}

// Response is an upstream response or one synthesized by the gateway
// or by a middleware verdict.
type Response struct {
	StatusCode int
	Headers    Headers
	Body       []byte
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       bytes.Clone(r.Body),
	}
}

// TextResponse builds a plain-text response with the given status.
func TextResponse(status int, body string) *Response {
	return &Response{
		StatusCode: status,
		Headers:    Headers{{Name: "Content-Type", Value: "text/plain; charset=utf-8"}},
		Body:       []byte(body),
	}
}
