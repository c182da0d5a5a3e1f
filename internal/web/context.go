package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

// requestContext carries the client IP, User-Agent and request ID into the
// service so its stage logs can be tied back to the request.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr) // already rewritten by TrustedRealIP
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = core.ContextWithRequestID(ctx, id)
	}
	return ctx
}
