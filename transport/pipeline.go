// Package transport implements the client's request pipeline as an
// http.RoundTripper: outbound stages decorate each request, then recovery
// stages may replace the response, for example by refreshing the session
// and replaying a request that came back 401.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// RequestStage mutates an outbound request before it is sent. It receives
// the pipeline's private clone, never the caller's request.
type RequestStage interface {
	PrepareRequest(req *http.Request) error
}

// RequestStageFunc adapts a function to RequestStage.
type RequestStageFunc func(req *http.Request) error

func (f RequestStageFunc) PrepareRequest(req *http.Request) error { return f(req) }

// Replay sends a request through the whole pipeline again.
type Replay func(req *http.Request) (*http.Response, error)

// RecoveryStage inspects a response and may replace it. A stage that does
// not act returns resp unchanged.
type RecoveryStage interface {
	Recover(req *http.Request, resp *http.Response, replay Replay) (*http.Response, error)
}

// Pipeline is an http.RoundTripper running request and recovery stages
// around a base transport.
type Pipeline struct {
	base     http.RoundTripper
	request  []RequestStage
	recovery []RecoveryStage
}

var _ http.RoundTripper = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRequestStages appends outbound stages, run in order.
func WithRequestStages(stages ...RequestStage) Option {
	return func(p *Pipeline) { p.request = append(p.request, stages...) }
}

// WithRecoveryStages appends recovery stages, run in order.
func WithRecoveryStages(stages ...RecoveryStage) Option {
	return func(p *Pipeline) { p.recovery = append(p.recovery, stages...) }
}

// New returns a Pipeline over base. A nil base uses http.DefaultTransport.
func New(base http.RoundTripper, opts ...Option) *Pipeline {
	if base == nil {
		base = http.DefaultTransport
	}
	p := &Pipeline{base: base}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	for _, stage := range p.request {
		if err := stage.PrepareRequest(out); err != nil {
			closeBody(out)
			return nil, err
		}
	}

	resp, err := p.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	for _, stage := range p.recovery {
		resp, err = stage.Recover(out, resp, p.RoundTrip)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// cloneRequest copies req so stages never touch the caller's request. A
// body without GetBody is buffered so the request can be replayed.
func cloneRequest(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}

	buf, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(buf))
	return out, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
