package main

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type dashboardStats struct {
	data.StatusCounts
	ActiveEnumerators int64 `json:"active_enumerators"`
	TotalEnumerators  int64 `json:"total_enumerators"`
}

const publicListLimit = 1000

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	ctx := r.Context()

	subs, err := s.scope.Subordinates(ctx, me)
	if err != nil {
		return err
	}
	counts, err := s.respondents.CountByStatus(ctx, scope.Filter(nil, me.Role, me.ID.Hex(), subs, "enumerator_id"))
	if err != nil {
		return err
	}
	since := s.now().UTC().Add(-s.settings.activeWindow)
	active, err := s.locations.ActiveUsers(ctx, scope.Filter(nil, me.Role, me.ID.Hex(), subs, "user_id"), since)
	if err != nil {
		return err
	}

	var total int64
	switch me.Role {
	case data.RoleAdmin:
		total, err = s.users.Count(ctx, bson.M{"role": data.RoleEnumerator})
		if err != nil {
			return err
		}
	case data.RoleSupervisor:
		total = int64(len(subs))
	default:
		total = 1
	}

	writeJSON(w, http.StatusOK, dashboardStats{StatusCounts: counts, ActiveEnumerators: active, TotalEnumerators: total})
	return nil
}

// The public endpoints feed the unauthenticated leadership dashboard. They
// never fail: a store error is logged and answered with an empty payload.

func (s *Server) handlePublicDashboardStats(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	var stats dashboardStats
	counts, err := s.respondents.CountByStatus(ctx, nil)
	if err == nil {
		stats.StatusCounts = counts
		stats.ActiveEnumerators, err = s.locations.ActiveUsers(ctx, nil, s.now().UTC().Add(-s.settings.activeWindow))
	}
	if err == nil {
		stats.TotalEnumerators, err = s.users.Count(ctx, bson.M{"role": data.RoleEnumerator})
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load public dashboard stats")
		stats = dashboardStats{}
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func (s *Server) handlePublicRespondents(w http.ResponseWriter, r *http.Request) error {
	list, err := s.respondents.List(r.Context(), nil, publicListLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to load public respondents")
		list = []data.Respondent{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

func (s *Server) handlePublicLocations(w http.ResponseWriter, r *http.Request) error {
	pings, err := s.locations.Latest(r.Context(), nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to load public locations")
		pings = []data.LocationPing{}
	}
	writeJSON(w, http.StatusOK, pings)
	return nil
}

func (s *Server) handlePublicSurveys(w http.ResponseWriter, r *http.Request) error {
	surveys, err := s.surveys.List(r.Context(), bson.M{})
	if err != nil {
		log.Error().Err(err).Msg("failed to load public surveys")
		surveys = []data.Survey{}
	}
	writeJSON(w, http.StatusOK, surveys)
	return nil
}
