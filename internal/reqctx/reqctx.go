// Package reqctx carries per-request identity through the call chain. It is
// populated once by HTTP middleware and read everywhere else.
package reqctx

import "context"

type requestDataKey struct{}

type RequestData struct {
	RequestID      string
	ActorID        string
	IdempotencyKey string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

// GetRequestData never returns nil; a context without request data yields an empty value.
func GetRequestData(ctx context.Context) *RequestData {
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok && rd != nil {
		return rd
	}
	return &RequestData{}
}
