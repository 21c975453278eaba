package auth

import (
	"context"
	"net/http"
)

type ctxKey int

const identityCtxKey ctxKey = iota

// Middleware authenticates every request via Pipeline.Authenticate
// and attaches the resolved Identity to the request context. Requests
// without a valid identity never reach the next handler.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := p.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			switch err {
			case ErrLocked:
				w.WriteHeader(http.StatusLocked)
				w.Write([]byte(`{"error":"AccountLocked","message":"account is temporarily locked"}`))
			default:
				// Deliberately generic: never distinguishes unknown
				// tokens from expired or revoked ones.
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"Unauthorized","message":"invalid or expired credentials"}`))
			}
			return
		}
		ctx := context.WithValue(r.Context(), identityCtxKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext extracts the Identity attached by Middleware. Returns
// nil, false if called outside an authenticated request.
func FromContext(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(identityCtxKey).(*Identity)
	return ident, ok
}

// NewContext attaches ident to ctx the same way Middleware does. It
// exists so handlers and tests outside this package can construct an
// authenticated context without going through a real request.
func NewContext(ctx context.Context, ident *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, ident)
}
