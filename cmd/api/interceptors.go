package main

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

// context key type for storing the authenticated caller in context
type authContextKey struct{}

type caller struct {
	user   *data.User
	claims *auth.Claims
}

// callerFrom extracts the authenticated caller from the context, if present.
func callerFrom(ctx context.Context) (*data.User, *auth.Claims, bool) {
	c, ok := ctx.Value(authContextKey{}).(caller)
	if !ok {
		return nil, nil, false
	}
	return c.user, c.claims, true
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// authed wraps h so it only runs for an authenticated caller with one of
// roles. No roles means any authenticated caller.
func (s *Server) authed(h apiHandler, roles ...data.Role) http.Handler {
	return apiHandler(func(w http.ResponseWriter, r *http.Request) error {
		token := bearerToken(r)
		if token == "" {
			return errUnauthorized("Not authenticated")
		}
		user, claims, err := s.sessions.Authenticate(r.Context(), token)
		if err != nil {
			return err
		}
		if len(roles) > 0 && !slices.Contains(roles, user.Role) {
			return errForbidden("Not enough permissions")
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, caller{user: user, claims: claims})
		return h(w, r.WithContext(ctx))
	})
}

// mustCaller returns the caller set by authed. Handlers mounted without
// authed never call it.
func mustCaller(r *http.Request) *data.User {
	user, _, ok := callerFrom(r.Context())
	if !ok {
		panic("handler mounted without authentication")
	}
	return user
}

// loggingUnaryInterceptor logs every unary call on the internal gRPC server.
func loggingUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.Debug().
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Msg("grpc request")
	return resp, err
}
