package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type updateUserRequest struct {
	Username        *string    `json:"username"`
	Email           *string    `json:"email"`
	Password        *string    `json:"password"`
	Role            *data.Role `json:"role"`
	SupervisorID    *string    `json:"supervisor_id"`
	TeamID          *string    `json:"team_id"`
	AssignedSurveys []string   `json:"assigned_surveys"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	if me.Role == data.RoleEnumerator {
		writeJSON(w, http.StatusOK, []*data.User{me})
		return nil
	}
	users, err := s.users.List(r.Context(), scope.Users(me, nil))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}

func (s *Server) handleListEnumerators(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	users, err := s.users.List(r.Context(), scope.Users(me, bson.M{"role": data.RoleEnumerator}))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, users)
	return nil
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	user, err := s.newUser(r.Context(), &req)
	if err != nil {
		return err
	}
	log.Info().
		Str("user_id", user.ID.Hex()).
		Str("role", string(user.Role)).
		Str("created_by", mustCaller(r).ID.Hex()).
		Msg("user created")
	writeJSON(w, http.StatusOK, user)
	return nil
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]

	target, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		return err
	}
	isAdmin := me.Role == data.RoleAdmin
	if !isAdmin && me.ID != target.ID {
		if me.Role != data.RoleSupervisor || target.SupervisorID != me.ID.Hex() {
			return errForbidden("Permission denied")
		}
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}

	set := bson.M{}
	if req.Username != nil && strings.TrimSpace(*req.Username) != "" {
		set["username"] = strings.TrimSpace(*req.Username)
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) != "" {
		set["email"] = *req.Email
	}
	if req.Password != nil && strings.TrimSpace(*req.Password) != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return err
		}
		set["password"] = hash
	}
	if req.TeamID != nil {
		set["team_id"] = *req.TeamID
	}
	if req.AssignedSurveys != nil {
		set["assigned_surveys"] = req.AssignedSurveys
	}
	// role and reporting line are only changed by admins; others are ignored
	if isAdmin {
		role := target.Role
		if req.Role != nil {
			if !req.Role.Valid() {
				return errBadRequest("role must be one of admin, supervisor, enumerator")
			}
			role = *req.Role
			set["role"] = role
		}
		if target.Role == data.RoleSupervisor && role != data.RoleSupervisor {
			subs, err := s.users.SubordinateIDs(r.Context(), target.ID.Hex())
			if err != nil {
				return err
			}
			if len(subs) > 0 {
				return errBadRequest("supervisor still has %d enumerators; reassign them first", len(subs))
			}
		}
		if role != data.RoleEnumerator && target.SupervisorID != "" && req.SupervisorID == nil {
			set["supervisor_id"] = ""
		}
		if req.SupervisorID != nil {
			if err := s.checkSupervisor(r.Context(), role, *req.SupervisorID); err != nil {
				return err
			}
			set["supervisor_id"] = *req.SupervisorID
		}
	}
	if len(set) == 0 {
		return errBadRequest("No data provided for update")
	}

	updated, err := s.users.Update(r.Context(), id, set)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, updated)
	return nil
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	if id == me.ID.Hex() {
		return errBadRequest("admins cannot delete their own account")
	}
	if err := s.users.Delete(r.Context(), id); err != nil {
		return err
	}
	if err := s.sessions.RevokeUser(r.Context(), id); err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("failed to revoke sessions of deleted user")
	}
	s.notify.EndSessions(r.Context(), id, "", "account deleted")
	log.Info().Str("user_id", id).Str("deleted_by", me.ID.Hex()).Msg("user deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	return nil
}
