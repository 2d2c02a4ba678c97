// Package model defines shared types for the gateway: the request and
// response passed through the middleware chain, the verdicts middleware
// return, and the typed errors the engine reacts to.
package model

import (
	"net/http"
	"sort"
	"strings"
)

// Header is a single name/value pair.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered list of header pairs. Names are matched
// case-insensitively; a name may appear more than once.
type Headers []Header

// HeadersFromHTTP converts an http.Header into an ordered list. Names are
// sorted so the result does not depend on map iteration order.
func HeadersFromHTTP(h http.Header) Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Headers, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

// HTTP converts the list back into an http.Header, preserving value order.
func (h Headers) HTTP() http.Header {
	out := make(http.Header, len(h))
	for _, hd := range h {
		out.Add(hd.Name, hd.Value)
	}
	return out
}

// Get returns the first value for name, or "" if absent.
func (h Headers) Get(name string) string {
	for _, hd := range h {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, hd := range h {
		if strings.EqualFold(hd.Name, name) {
			out = append(out, hd.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	for _, hd := range h {
		if strings.EqualFold(hd.Name, name) {
			return true
		}
	}
	return false
}

// Without returns a copy of h with every header named in names removed.
func (h Headers) Without(names ...string) Headers {
	out := make(Headers, 0, len(h))
	for _, hd := range h {
		if !containsFold(names, hd.Name) {
			out = append(out, hd)
		}
	}
	return out
}

// With returns a copy of h with added appended.
func (h Headers) With(added ...Header) Headers {
	out := make(Headers, 0, len(h)+len(added))
	out = append(out, h...)
	return append(out, added...)
}

// Clone returns an independent copy of h. A nil list stays nil.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// HopByHopHeaders apply to a single connection and are never forwarded.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// WithoutHopByHop returns a copy of h without hop-by-hop headers, including
// any header named as a token of the Connection header.
func (h Headers) WithoutHopByHop() Headers {
	names := append([]string(nil), HopByHopHeaders...)
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if token = strings.TrimSpace(token); token != "" {
				names = append(names, token)
			}
		}
	}
	return h.Without(names...)
}
