package middleware

import (
	"context"
	"net/http"
	"sync"

	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/response"
)

// RequireScope admits requests carrying a valid bearer token with scope and
// stores its claims in the request context. An empty scope accepts any
// valid token.
func RequireScope(g *auth.Guard, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := g.Authenticate(r.Context(), r.Header.Get("Authorization"), scope)
			if err != nil {
				response.Error(w, r, err)
				return
			}
			if h := holderFrom(r.Context()); h != nil {
				h.set(claims.ClientID)
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// claimsHolder carries the authenticated client id back up to middleware
// that wraps RequireScope.
type claimsHolder struct {
	mu       sync.Mutex
	clientID string
}

func (h *claimsHolder) set(id string) {
	h.mu.Lock()
	h.clientID = id
	h.mu.Unlock()
}

func (h *claimsHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientID
}

type holderKey struct{}

// ensureHolder returns the holder already in ctx or installs a new one.
func ensureHolder(ctx context.Context) (context.Context, *claimsHolder) {
	if h := holderFrom(ctx); h != nil {
		return ctx, h
	}
	h := &claimsHolder{}
	return context.WithValue(ctx, holderKey{}, h), h
}

func holderFrom(ctx context.Context) *claimsHolder {
	h, _ := ctx.Value(holderKey{}).(*claimsHolder)
	return h
}
