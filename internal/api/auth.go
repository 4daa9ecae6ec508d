package api

import (
	"context"
	"net/http"
	"strings"

	"collectroute/internal/auth"
)

type Principal struct {
	UserID string
	TeamID string
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// authenticate resolves the acting user. A bearer token (or access_token query parameter)
// always wins; in dev mode the X-User-Id and X-Team-Id headers are accepted as well.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, hasTok := "", false
		if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
			if tok, hasTok = bearerToken(authz); !hasTok {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", r.URL.Path)
				return
			}
		} else if q := r.URL.Query().Get("access_token"); q != "" {
			// Browsers cannot set headers on EventSource or WebSocket requests.
			tok, hasTok = q, true
		}
		if hasTok {
			if s.Auth == nil {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", r.URL.Path)
				return
			}
			p, err := s.Auth.Verify(tok)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials", r.URL.Path)
				return
			}
			ctx := withPrincipal(r.Context(), Principal{UserID: p.UserID, TeamID: p.TeamID, Source: "token"})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if s.Auth == nil || s.Auth.Mode == auth.ModeDev {
			if user := strings.TrimSpace(r.Header.Get("X-User-Id")); user != "" {
				ctx := withPrincipal(r.Context(), Principal{
					UserID: user,
					TeamID: strings.TrimSpace(r.Header.Get("X-Team-Id")),
					Source: "header",
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "authentication required", r.URL.Path)
	})
}
