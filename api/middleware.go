package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/travel-engine/generic"
	"github.com/warp/travel-engine/travel"
)

type ctxKey struct{}

// RequireAuth resolves the bearer token to an actor. Requests without a
// valid token are answered with 401 and never reach the handler.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.writeError(w, generic.ErrUnauthenticated)
			return
		}
		actor, err := h.Engine.Authenticate(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, actor)))
	})
}

// actorFrom returns the authenticated actor, or the zero Actor which the
// policy refuses for every action.
func actorFrom(r *http.Request) travel.Actor {
	a, _ := r.Context().Value(ctxKey{}).(travel.Actor)
	return a
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
