package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"kubeware-go/internal/model"
)

// Field numbers from proto/kubeware/middleware.proto.
const (
	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2

	fieldReqMethod  protowire.Number = 1
	fieldReqURI     protowire.Number = 2
	fieldReqHeaders protowire.Number = 3
	fieldReqBody    protowire.Number = 4

	fieldRespMethod          protowire.Number = 1
	fieldRespURI             protowire.Number = 2
	fieldRespRequestHeaders  protowire.Number = 3
	fieldRespResponseHeaders protowire.Number = 4
	fieldRespRequestBody     protowire.Number = 5
	fieldRespResponseBody    protowire.Number = 6
	fieldRespStatusCode      protowire.Number = 7

	fieldVerdictStatus         protowire.Number = 1
	fieldVerdictAddedHeaders   protowire.Number = 2
	fieldVerdictRemovedHeaders protowire.Number = 3
	fieldVerdictBody           protowire.Number = 4
	fieldVerdictStatusCode     protowire.Number = 5

	// google.protobuf.StringValue / Int32Value
	fieldWrapperValue protowire.Number = 1
)

// message is implemented by every type that crosses the middleware channel.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

// RequestRequest is the HandleRequest input.
type RequestRequest struct {
	Method  string
	URI     string
	Headers model.Headers
	Body    string
}

// ResponseRequest is the HandleResponse input.
type ResponseRequest struct {
	Method          string
	URI             string
	RequestHeaders  model.Headers
	ResponseHeaders model.Headers
	RequestBody     string
	ResponseBody    string
	StatusCode      int32
}

// VerdictMessage is the output of both HandleRequest and HandleResponse
// (RequestResponse and ResponseResponse share one layout). Status holds
// the raw enum value so unknown values survive decoding and can be
// rejected by the caller.
type VerdictMessage struct {
	Status         int32
	AddedHeaders   model.Headers
	RemovedHeaders []string
	Body           *string
	StatusCode     *int32
}

func (m *RequestRequest) marshal() []byte {
	var b []byte
	b = appendString(b, fieldReqMethod, m.Method)
	b = appendString(b, fieldReqURI, m.URI)
	b = appendHeaders(b, fieldReqHeaders, m.Headers)
	b = appendString(b, fieldReqBody, m.Body)
	return b
}

func (m *RequestRequest) unmarshal(b []byte) error {
	*m = RequestRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldReqMethod:
			return consumeString(typ, b, &m.Method)
		case fieldReqURI:
			return consumeString(typ, b, &m.URI)
		case fieldReqHeaders:
			return consumeHeader(typ, b, &m.Headers)
		case fieldReqBody:
			return consumeString(typ, b, &m.Body)
		}
		return 0, nil
	})
}

func (m *ResponseRequest) marshal() []byte {
	var b []byte
	b = appendString(b, fieldRespMethod, m.Method)
	b = appendString(b, fieldRespURI, m.URI)
	b = appendHeaders(b, fieldRespRequestHeaders, m.RequestHeaders)
	b = appendHeaders(b, fieldRespResponseHeaders, m.ResponseHeaders)
	b = appendString(b, fieldRespRequestBody, m.RequestBody)
	b = appendString(b, fieldRespResponseBody, m.ResponseBody)
	if m.StatusCode != 0 {
		b = protowire.AppendTag(b, fieldRespStatusCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.StatusCode)))
	}
	return b
}

func (m *ResponseRequest) unmarshal(b []byte) error {
	*m = ResponseRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldRespMethod:
			return consumeString(typ, b, &m.Method)
		case fieldRespURI:
			return consumeString(typ, b, &m.URI)
		case fieldRespRequestHeaders:
			return consumeHeader(typ, b, &m.RequestHeaders)
		case fieldRespResponseHeaders:
			return consumeHeader(typ, b, &m.ResponseHeaders)
		case fieldRespRequestBody:
			return consumeString(typ, b, &m.RequestBody)
		case fieldRespResponseBody:
			return consumeString(typ, b, &m.ResponseBody)
		case fieldRespStatusCode:
			return consumeInt32(typ, b, &m.StatusCode)
		}
		return 0, nil
	})
}

func (m *VerdictMessage) marshal() []byte {
	var b []byte
	if m.Status != 0 {
		b = protowire.AppendTag(b, fieldVerdictStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Status)))
	}
	b = appendHeaders(b, fieldVerdictAddedHeaders, m.AddedHeaders)
	for _, name := range m.RemovedHeaders {
		b = protowire.AppendTag(b, fieldVerdictRemovedHeaders, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	if m.Body != nil {
		var inner []byte
		inner = appendString(inner, fieldWrapperValue, *m.Body)
		b = protowire.AppendTag(b, fieldVerdictBody, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	if m.StatusCode != nil {
		var inner []byte
		if *m.StatusCode != 0 {
			inner = protowire.AppendTag(inner, fieldWrapperValue, protowire.VarintType)
			inner = protowire.AppendVarint(inner, uint64(int64(*m.StatusCode)))
		}
		b = protowire.AppendTag(b, fieldVerdictStatusCode, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

func (m *VerdictMessage) unmarshal(b []byte) error {
	*m = VerdictMessage{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldVerdictStatus:
			return consumeInt32(typ, b, &m.Status)
		case fieldVerdictAddedHeaders:
			return consumeHeader(typ, b, &m.AddedHeaders)
		case fieldVerdictRemovedHeaders:
			var name string
			n, err := consumeString(typ, b, &name)
			if n > 0 && err == nil {
				m.RemovedHeaders = append(m.RemovedHeaders, name)
			}
			return n, err
		case fieldVerdictBody:
			if typ != protowire.BytesType {
				return 0, nil
			}
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var s string
			err := consumeFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == fieldWrapperValue {
					return consumeString(typ, b, &s)
				}
				return 0, nil
			})
			m.Body = &s
			return n, err
		case fieldVerdictStatusCode:
			if typ != protowire.BytesType {
				return 0, nil
			}
			inner, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var v int32
			err := consumeFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == fieldWrapperValue {
					return consumeInt32(typ, b, &v)
				}
				return 0, nil
			})
			m.StatusCode = &v
			return n, err
		}
		return 0, nil
	})
}

// consumeFields walks the fields in b. fn returns the number of bytes it
// consumed for a field, 0 to skip the field as unknown, or a negative
// protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	s, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = s
	}
	return n, nil
}

func consumeInt32(typ protowire.Type, b []byte, dst *int32) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int32(v)
	}
	return n, nil
}

func consumeHeader(typ protowire.Type, b []byte, dst *model.Headers) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	inner, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	var h model.Header
	err := consumeFields(inner, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldHeaderName:
			return consumeString(typ, b, &h.Name)
		case fieldHeaderValue:
			return consumeString(typ, b, &h.Value)
		}
		return 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("header: %w", err)
	}
	*dst = append(*dst, h)
	return n, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendHeaders(b []byte, num protowire.Number, hs model.Headers) []byte {
	for _, h := range hs {
		var inner []byte
		inner = appendString(inner, fieldHeaderName, h.Name)
		inner = appendString(inner, fieldHeaderValue, h.Value)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}
