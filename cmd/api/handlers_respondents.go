package main

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

type createRespondentRequest struct {
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	Address      string        `json:"address"`
	Location     data.GeoPoint `json:"location"`
	SurveyID     string        `json:"survey_id"`
	EnumeratorID string        `json:"enumerator_id"`
	RegionCode   string        `json:"region_code"`
}

// updateRespondentRequest is closed: any other field is rejected.
type updateRespondentRequest struct {
	Status       *data.RespondentStatus `json:"status"`
	SurveyData   map[string]any         `json:"survey_data"`
	EnumeratorID *string                `json:"enumerator_id"`
}

const respondentListLimit = 1000

// canAssign reports whether caller may hand respondents to enumeratorID.
func (s *Server) canAssign(ctx context.Context, caller *data.User, enumeratorID string) error {
	switch caller.Role {
	case data.RoleAdmin:
		return nil
	case data.RoleEnumerator:
		if enumeratorID == caller.ID.Hex() {
			return nil
		}
		return errForbidden("Enumerators cannot reassign respondents")
	}
	if enumeratorID == "" {
		return nil
	}
	subs, err := s.scope.Subordinates(ctx, caller)
	if err != nil {
		return err
	}
	if !slices.Contains(subs, enumeratorID) {
		return errForbidden("Supervisors can only assign their own enumerators")
	}
	return nil
}

// respondentAudience lists who hears about changes to resp: its
// enumerator, that enumerator's supervisor and every admin.
func (s *Server) respondentAudience(ctx context.Context, resp *data.Respondent) ([]string, error) {
	ids, err := s.users.IDs(ctx, bson.M{"role": data.RoleAdmin})
	if err != nil {
		return nil, err
	}
	if resp.EnumeratorID == "" {
		return ids, nil
	}
	ids = append(ids, resp.EnumeratorID)
	enum, err := s.users.GetByID(ctx, resp.EnumeratorID)
	switch {
	case errors.Is(err, data.ErrNotFound):
	case err != nil:
		return nil, err
	case enum.SupervisorID != "":
		ids = append(ids, enum.SupervisorID)
	}
	return ids, nil
}

func (s *Server) handleCreateRespondent(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req createRespondentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		return errBadRequest("name is required")
	case req.SurveyID == "":
		return errBadRequest("survey_id is required")
	}
	byID, err := data.ByID(req.SurveyID)
	if err != nil {
		return errBadRequest("survey %s does not exist", req.SurveyID)
	}
	if _, err := s.surveys.FindOne(r.Context(), byID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return errBadRequest("survey %s does not exist", req.SurveyID)
		}
		return err
	}
	if err := s.canAssign(r.Context(), me, req.EnumeratorID); err != nil {
		return err
	}

	now := s.now().UTC()
	resp, err := s.respondents.Create(r.Context(), &data.Respondent{
		Name:         req.Name,
		Phone:        req.Phone,
		Address:      req.Address,
		Location:     req.Location,
		Status:       data.StatusPending,
		SurveyID:     req.SurveyID,
		EnumeratorID: req.EnumeratorID,
		AssignedBy:   me.ID.Hex(),
		RegionCode:   req.RegionCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleListRespondents(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	base := bson.M{}
	if surveyID := r.URL.Query().Get("survey_id"); surveyID != "" {
		base["survey_id"] = surveyID
	}
	filter, err := s.scope.Respondents(r.Context(), me, base)
	if err != nil {
		return err
	}
	list, err := s.respondents.List(r.Context(), filter, respondentListLimit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (s *Server) handleGetRespondent(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	byID, err := data.ByID(mux.Vars(r)["id"])
	if err != nil {
		return errNotFound("Respondent")
	}
	filter, err := s.scope.Respondents(r.Context(), me, byID)
	if err != nil {
		return err
	}
	resp, err := s.respondents.FindOne(r.Context(), filter)
	if err != nil {
		return named(err, "Respondent")
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleUpdateRespondent(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	byID, err := data.ByID(mux.Vars(r)["id"])
	if err != nil {
		return errNotFound("Respondent")
	}
	var req updateRespondentRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		return err
	}

	set := bson.M{}
	if req.Status != nil {
		if !req.Status.Valid() {
			return errBadRequest("status must be one of pending, in_progress, completed")
		}
		set["status"] = *req.Status
	}
	if req.SurveyData != nil {
		set["survey_data"] = req.SurveyData
	}
	if req.EnumeratorID != nil {
		if err := s.canAssign(r.Context(), me, *req.EnumeratorID); err != nil {
			return err
		}
		set["enumerator_id"] = *req.EnumeratorID
	}

	filter, err := s.scope.Respondents(r.Context(), me, byID)
	if err != nil {
		return err
	}
	set["updated_at"] = s.now().UTC()
	resp, err := s.respondents.Update(r.Context(), filter, set)
	if err != nil {
		return named(err, "Respondent")
	}

	audience, err := s.respondentAudience(r.Context(), resp)
	if err != nil {
		log.Error().Err(err).Str("respondent_id", resp.ID.Hex()).Msg("failed to resolve respondent_update audience")
	} else {
		s.notify.Multicast(r.Context(), audience, realtime.Event{Type: realtime.RespondentUpdate, Data: resp})
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}
