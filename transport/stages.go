package transport

import (
	"net/http"

	"github.com/jmcleod/ironsession/internal/uuid"
)

// RequestIDHeader carries a per-request identifier. A replay keeps the
// identifier of the request it repeats.
const RequestIDHeader = "X-Request-ID"

// TokenReader supplies the current access token.
type TokenReader interface {
	Token() (string, bool)
}

// BearerStage attaches "Authorization: Bearer <token>" when a token is held.
// A replay always carries the token its refresh produced.
type BearerStage struct {
	tokens TokenReader
}

func NewBearerStage(tokens TokenReader) *BearerStage {
	return &BearerStage{tokens: tokens}
}

func (b *BearerStage) PrepareRequest(req *http.Request) error {
	if tok, ok := replayToken(req.Context()); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
		return nil
	}
	if b.tokens == nil {
		return nil
	}
	if tok, ok := b.tokens.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// RequestIDStage sets X-Request-ID when the caller did not.
type RequestIDStage struct{}

func (RequestIDStage) PrepareRequest(req *http.Request) error {
	if req.Header.Get(RequestIDHeader) == "" {
		req.Header.Set(RequestIDHeader, uuid.New())
	}
	return nil
}
