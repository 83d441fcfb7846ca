package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

type registerRequest struct {
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Password        string    `json:"password"`
	Role            data.Role `json:"role"`
	SupervisorID    string    `json:"supervisor_id"`
	TeamID          string    `json:"team_id"`
	AssignedSurveys []string  `json:"assigned_surveys"`
}

func (req *registerRequest) validate() error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Username == "":
		return errBadRequest("username is required")
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return errBadRequest("a valid email is required")
	case req.Password == "":
		return errBadRequest("password is required")
	case !req.Role.Valid():
		return errBadRequest("role must be one of admin, supervisor, enumerator")
	}
	return nil
}

type loginRequest struct {
	Email      string           `json:"email"`
	Password   string           `json:"password"`
	DeviceInfo *data.DeviceInfo `json:"device_info"`
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        *data.User `json:"user"`
}

func sessionMeta(r *http.Request, device *data.DeviceInfo) auth.SessionMeta {
	return auth.SessionMeta{Device: device, UserAgent: r.UserAgent(), RemoteAddr: r.RemoteAddr}
}

// newUser validates req and stores the user with a hashed password.
func (s *Server) newUser(ctx context.Context, req *registerRequest) (*data.User, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.checkSupervisor(ctx, req.Role, req.SupervisorID); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return s.users.Create(ctx, &data.User{
		Username:        req.Username,
		Email:           req.Email,
		Password:        hash,
		Role:            req.Role,
		SupervisorID:    req.SupervisorID,
		TeamID:          req.TeamID,
		AssignedSurveys: req.AssignedSurveys,
		CreatedAt:       s.now().UTC(),
	})
}

// checkSupervisor verifies an enumerator's supervisor_id names a supervisor.
func (s *Server) checkSupervisor(ctx context.Context, role data.Role, supervisorID string) error {
	if supervisorID == "" {
		return nil
	}
	if role != data.RoleEnumerator {
		return errBadRequest("only enumerators can have a supervisor")
	}
	sup, err := s.users.GetByID(ctx, supervisorID)
	if errors.Is(err, data.ErrNotFound) {
		return errBadRequest("supervisor %s does not exist", supervisorID)
	}
	if err != nil {
		return err
	}
	if sup.Role != data.RoleSupervisor {
		return errBadRequest("user %s is not a supervisor", supervisorID)
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if req.Role == data.RoleAdmin {
		return errForbidden("Admin accounts cannot be self-registered")
	}
	user, err := s.newUser(r.Context(), &req)
	if err != nil {
		return err
	}
	tok, err := s.sessions.Open(r.Context(), user, sessionMeta(r, nil))
	if err != nil {
		return err
	}
	log.Info().Str("user_id", user.ID.Hex()).Str("role", string(user.Role)).Msg("user registered")
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: "bearer", User: user})
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if req.Email == "" || req.Password == "" {
		return errBadRequest("email and password are required")
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, data.ErrNotFound) {
		return auth.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return auth.ErrInvalidCredentials
	}

	tok, err := s.sessions.Open(r.Context(), user, sessionMeta(r, req.DeviceInfo))
	if err != nil {
		return err
	}
	s.notify.EndSessions(r.Context(), user.ID.Hex(), tok.SessionID, "signed in on another device")
	now := s.now().UTC()
	user.CurrentSessionID = tok.SessionID
	user.LastLoginAt = &now
	if req.DeviceInfo != nil {
		user.LastDeviceInfo = req.DeviceInfo
	}
	log.Info().Str("user_id", user.ID.Hex()).Msg("user logged in")
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: "bearer", User: user})
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) error {
	_, claims, _ := callerFrom(r.Context())
	if err := s.sessions.Close(r.Context(), claims); err != nil {
		return err
	}
	s.notify.EndSessions(r.Context(), claims.UserID(), "", "signed out")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	return nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, mustCaller(r))
	return nil
}

func (s *Server) handleDeviceSync(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var device data.DeviceInfo
	if err := decodeJSON(w, r, &device, false); err != nil {
		return err
	}
	if err := s.users.SyncDevice(r.Context(), me.ID.Hex(), device, s.now().UTC()); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced", "device": device.DeviceModel})
	return nil
}
