package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// handleWebSocket upgrades an authenticated client and hands the connection
// to the hub. The token comes from ?token= or the Authorization header and
// its subject must be the user id in the path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) error {
	userID := mux.Vars(r)["user_id"]
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		return errUnauthorized("Not authenticated")
	}
	user, claims, err := s.sessions.Authenticate(r.Context(), token)
	if err != nil {
		return err
	}
	if user.ID.Hex() != userID {
		return errForbidden("Token does not belong to this user")
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return nil
	}
	log.Info().Str("user_id", userID).Msg("websocket connected")
	s.hub.Serve(userID, claims.SessionID(), conn)
	log.Info().Str("user_id", userID).Msg("websocket disconnected")
	return nil
}
