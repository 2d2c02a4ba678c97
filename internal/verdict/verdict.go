// Package verdict applies middleware verdicts to requests and responses.
package verdict

import (
	"net/http"

	"kubeware-go/internal/model"
)

// DefaultStopStatus is used for a STOP verdict that carries no status code
// when the applicator is not configured otherwise.
const DefaultStopStatus = http.StatusOK

// Applicator interprets verdicts. It holds no per-request state and is
// safe for concurrent use.
type Applicator struct {
	stopStatus int
}

// New creates an Applicator. A stopStatus of 0 selects DefaultStopStatus.
func New(stopStatus int) *Applicator {
	if stopStatus == 0 {
		stopStatus = DefaultStopStatus
	}
	return &Applicator{stopStatus: stopStatus}
}

// ApplyRequest applies a request-phase verdict. When the verdict stops the
// chain, the terminal response is returned and the request is unchanged.
// Otherwise the returned response is nil and the request reflects the
// verdict's mutations. req is never modified.
func (a *Applicator) ApplyRequest(req *model.Request, v *model.Verdict) (*model.Request, *model.Response) {
	switch v.Status {
	case model.StatusStop:
		return req, a.stopResponse(v)
	case model.StatusContinue:
		return req, nil
	}

	out := req.Clone()
	out.Headers = mutateHeaders(out.Headers, v)
	if v.Body != nil {
		out.Body = []byte(*v.Body)
	}
	return out, nil
}

// ApplyResponse applies a response-phase verdict. stopped reports whether
// the returned response is terminal. resp is never modified.
func (a *Applicator) ApplyResponse(resp *model.Response, v *model.Verdict) (out *model.Response, stopped bool) {
	switch v.Status {
	case model.StatusStop:
		return a.stopResponse(v), true
	case model.StatusContinue:
		return resp, false
	}

	out = resp.Clone()
	out.Headers = mutateHeaders(out.Headers, v)
	if v.Body != nil {
		out.Body = []byte(*v.Body)
	}
	if v.StatusCode != nil {
		out.StatusCode = *v.StatusCode
	}
	return out, false
}

// stopResponse synthesizes the terminal response for a STOP verdict.
func (a *Applicator) stopResponse(v *model.Verdict) *model.Response {
	resp := &model.Response{
		StatusCode: a.stopStatus,
		Headers:    v.AddedHeaders.Clone(),
	}
	if v.StatusCode != nil {
		resp.StatusCode = *v.StatusCode
	}
	if v.Body != nil {
		resp.Body = []byte(*v.Body)
	}
	return resp
}

// mutateHeaders removes before it adds, so a middleware can replace a
// header by naming it in both lists.
func mutateHeaders(h model.Headers, v *model.Verdict) model.Headers {
	if len(v.RemovedHeaders) > 0 {
		h = h.Without(v.RemovedHeaders...)
	}
	if len(v.AddedHeaders) > 0 {
		h = h.With(v.AddedHeaders...)
	}
	return h
}
