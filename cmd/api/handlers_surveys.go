package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/normalize"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type createSurveyRequest struct {
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	RegionLevel        string    `json:"region_level"`
	RegionName         string    `json:"region_name"`
	SupervisorIDs      []string  `json:"supervisor_ids"`
	EnumeratorIDs      []string  `json:"enumerator_ids"`
	GeoJSONPath        string    `json:"geojson_path"`
	GeoJSONFilterField string    `json:"geojson_filter_field"`
}

// updateSurveyRequest lists every field a survey update may touch.
type updateSurveyRequest struct {
	Title              *string    `json:"title"`
	Description        *string    `json:"description"`
	StartDate          *time.Time `json:"start_date"`
	EndDate            *time.Time `json:"end_date"`
	RegionLevel        *string    `json:"region_level"`
	RegionName         *string    `json:"region_name"`
	SupervisorIDs      []string   `json:"supervisor_ids"`
	EnumeratorIDs      []string   `json:"enumerator_ids"`
	IsActive           *bool      `json:"is_active"`
	GeoJSONPath        *string    `json:"geojson_path"`
	GeoJSONFilterField *string    `json:"geojson_filter_field"`
}

func (req *updateSurveyRequest) set() bson.M {
	set := bson.M{}
	if req.Title != nil {
		set["title"] = *req.Title
	}
	if req.Description != nil {
		set["description"] = *req.Description
	}
	if req.StartDate != nil {
		set["start_date"] = req.StartDate.UTC()
	}
	if req.EndDate != nil {
		set["end_date"] = req.EndDate.UTC()
	}
	if req.RegionLevel != nil {
		set["region_level"] = *req.RegionLevel
	}
	if req.RegionName != nil {
		set["region_name"] = *req.RegionName
	}
	if req.SupervisorIDs != nil {
		set["supervisor_ids"] = req.SupervisorIDs
	}
	if req.EnumeratorIDs != nil {
		set["enumerator_ids"] = req.EnumeratorIDs
	}
	if req.IsActive != nil {
		set["is_active"] = *req.IsActive
	}
	if req.GeoJSONPath != nil {
		set["geojson_path"] = *req.GeoJSONPath
	}
	if req.GeoJSONFilterField != nil {
		set["geojson_filter_field"] = *req.GeoJSONFilterField
	}
	return set
}

type assignRequest struct {
	SurveyID      string   `json:"survey_id"`
	SupervisorIDs []string `json:"supervisor_ids"`
	EnumeratorIDs []string `json:"enumerator_ids"`
}

type bulkUploadRequest struct {
	SurveyID string    `json:"survey_id"`
	Users    []bulkRow `json:"users"`
}

type bulkRow struct {
	Location        string `json:"location"`
	SupervisorEmail string `json:"supervisor_email"`
	EnumeratorEmail string `json:"enumerator_email"`
}

type createdUser struct {
	Email string    `json:"email"`
	Role  data.Role `json:"role"`
	ID    string    `json:"id"`
}

type rowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type surveyStats struct {
	SurveyID string `json:"survey_id"`
	data.StatusCounts
	CompletionRate float64 `json:"completion_rate"`
}

// completionRate is completed/total as a percentage rounded to 2 decimals.
func completionRate(c data.StatusCounts) float64 {
	if c.Total == 0 {
		return 0
	}
	return math.Round(float64(c.Completed)/float64(c.Total)*100*100) / 100
}

// visibleSurvey loads the survey id if caller can see it.
func (s *Server) visibleSurvey(ctx context.Context, caller *data.User, id string) (*data.Survey, error) {
	byID, err := data.ByID(id)
	if err != nil {
		return nil, errNotFound("Survey")
	}
	survey, err := s.surveys.FindOne(ctx, scope.Surveys(caller, byID))
	return survey, named(err, "Survey")
}

func (s *Server) handleCreateSurvey(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req createSurveyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	switch {
	case strings.TrimSpace(req.Title) == "":
		return errBadRequest("title is required")
	case req.RegionLevel == "" || req.RegionName == "":
		return errBadRequest("region_level and region_name are required")
	case req.StartDate.IsZero() || req.EndDate.IsZero():
		return errBadRequest("start_date and end_date are required")
	}

	survey, err := s.surveys.Create(r.Context(), &data.Survey{
		Title:              req.Title,
		Description:        req.Description,
		StartDate:          req.StartDate.UTC(),
		EndDate:            req.EndDate.UTC(),
		RegionLevel:        req.RegionLevel,
		RegionName:         req.RegionName,
		SupervisorIDs:      req.SupervisorIDs,
		EnumeratorIDs:      req.EnumeratorIDs,
		CreatedBy:          me.ID.Hex(),
		CreatedAt:          s.now().UTC(),
		IsActive:           true,
		GeoJSONPath:        req.GeoJSONPath,
		GeoJSONFilterField: req.GeoJSONFilterField,
	})
	if err != nil {
		return err
	}
	log.Info().Str("survey_id", survey.ID.Hex()).Str("created_by", me.ID.Hex()).Msg("survey created")
	writeJSON(w, http.StatusOK, survey)
	return nil
}

func (s *Server) handleListSurveys(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	surveys, err := s.surveys.List(r.Context(), scope.Surveys(me, bson.M{"is_active": true}))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, surveys)
	return nil
}

func (s *Server) handleGetSurvey(w http.ResponseWriter, r *http.Request) error {
	survey, err := s.visibleSurvey(r.Context(), mustCaller(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, survey)
	return nil
}

func (s *Server) handleUpdateSurvey(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	byID, err := data.ByID(mux.Vars(r)["id"])
	if err != nil {
		return errNotFound("Survey")
	}
	var req updateSurveyRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		return err
	}
	set := req.set()
	if len(set) == 0 {
		return errBadRequest("No data provided for update")
	}
	survey, err := s.surveys.Update(r.Context(), scope.Surveys(me, byID), set)
	if err != nil {
		return named(err, "Survey")
	}
	writeJSON(w, http.StatusOK, survey)
	return nil
}

func (s *Server) handleSurveyStats(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	byID, err := data.ByID(id)
	if err != nil {
		return errNotFound("Survey")
	}
	if _, err := s.surveys.FindOne(r.Context(), byID); err != nil {
		return named(err, "Survey")
	}

	filter, err := s.scope.Respondents(r.Context(), me, bson.M{"survey_id": id})
	if err != nil {
		return err
	}
	counts, err := s.respondents.CountByStatus(r.Context(), filter)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, surveyStats{SurveyID: id, StatusCounts: counts, CompletionRate: completionRate(counts)})
	return nil
}

func (s *Server) handleAssignSurvey(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	survey, err := s.visibleSurvey(r.Context(), me, mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if err := s.surveys.AddMembers(r.Context(), survey.ID.Hex(), req.SupervisorIDs, req.EnumeratorIDs); err != nil {
		return named(err, "Survey")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Assigned %d supervisors and %d enumerators", len(req.SupervisorIDs), len(req.EnumeratorIDs)),
	})
	return nil
}

func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	survey, err := s.visibleSurvey(r.Context(), me, mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	var req bulkUploadRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	hash, err := auth.HashPassword(s.settings.bulkDefaultPassword)
	if err != nil {
		return err
	}

	created := []createdUser{}
	rowErrors := []rowError{}
	for i, row := range req.Users {
		supID, supNew, err := s.ensureBulkUser(r.Context(), row.SupervisorEmail, data.RoleSupervisor, "", hash)
		if err != nil {
			rowErrors = append(rowErrors, rowError{Row: i + 1, Error: err.Error()})
			continue
		}
		if supNew {
			created = append(created, createdUser{Email: row.SupervisorEmail, Role: data.RoleSupervisor, ID: supID})
		}
		enumID, enumNew, err := s.ensureBulkUser(r.Context(), row.EnumeratorEmail, data.RoleEnumerator, supID, hash)
		if err != nil {
			rowErrors = append(rowErrors, rowError{Row: i + 1, Error: err.Error()})
			continue
		}
		if enumNew {
			created = append(created, createdUser{Email: row.EnumeratorEmail, Role: data.RoleEnumerator, ID: enumID})
		}
		if err := s.surveys.AddMembers(r.Context(), survey.ID.Hex(), []string{supID}, []string{enumID}); err != nil {
			rowErrors = append(rowErrors, rowError{Row: i + 1, Error: err.Error()})
		}
	}

	log.Info().
		Str("survey_id", survey.ID.Hex()).
		Int("created", len(created)).
		Int("errors", len(rowErrors)).
		Msg("bulk upload processed")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"created_users": created,
		"errors":        rowErrors,
		"message":       fmt.Sprintf("Created %d users with %d errors", len(created), len(rowErrors)),
	})
	return nil
}

// ensureBulkUser returns the id of the user with email, creating it with the
// default password hash when absent. An existing user must already hold
// role; an existing enumerator is moved under supervisorID.
func (s *Server) ensureBulkUser(ctx context.Context, email string, role data.Role, supervisorID, hash string) (string, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", false, fmt.Errorf("invalid %s email %q", role, email)
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != role {
			return "", false, fmt.Errorf("%s is already registered as %s, not %s", email, existing.Role, role)
		}
		id := existing.ID.Hex()
		if role == data.RoleEnumerator && existing.SupervisorID != supervisorID {
			if _, err := s.users.Update(ctx, id, bson.M{"supervisor_id": supervisorID}); err != nil {
				return "", false, err
			}
		}
		return id, false, nil
	case !errors.Is(err, data.ErrNotFound):
		return "", false, err
	}

	user, err := s.users.Create(ctx, &data.User{
		Username:     normalize.Username(email),
		Email:        email,
		Password:     hash,
		Role:         role,
		SupervisorID: supervisorID,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return "", false, err
	}
	return user.ID.Hex(), true, nil
}
