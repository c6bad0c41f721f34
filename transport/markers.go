package transport

import "context"

type ctxKey int

const (
	retriedKey ctxKey = iota
	skipRefreshKey
	replayTokenKey
)

// WithoutAuthRefresh marks requests made with ctx so a 401 response is
// returned as-is instead of triggering a refresh.
func WithoutAuthRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipRefreshKey, true)
}

// SkipsAuthRefresh reports whether ctx carries the WithoutAuthRefresh marker.
func SkipsAuthRefresh(ctx context.Context) bool {
	v, _ := ctx.Value(skipRefreshKey).(bool)
	return v
}

// IsRetried reports whether the request is already a post-refresh replay.
func IsRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey).(bool)
	return v
}

func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}

func withReplayToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, replayTokenKey, token)
}

func replayToken(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(replayTokenKey).(string)
	return v, ok && v != ""
}
