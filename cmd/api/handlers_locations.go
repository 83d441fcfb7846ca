package main

import (
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

type locationRequest struct {
	UserID    string     `json:"user_id"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type locationBatchRequest struct {
	Locations []locationRequest `json:"locations"`
}

const locationListLimit = 1000

// ping validates req on behalf of caller and fills the defaults.
func (s *Server) ping(caller *data.User, req locationRequest) (data.LocationPing, error) {
	if req.UserID == "" {
		req.UserID = caller.ID.Hex()
	}
	if caller.Role != data.RoleAdmin && req.UserID != caller.ID.Hex() {
		return data.LocationPing{}, errForbidden("You can only report your own location")
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		return data.LocationPing{}, errBadRequest("latitude/longitude out of range")
	}
	ts := s.now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		ts = req.Timestamp.UTC()
	}
	return data.LocationPing{
		UserID:    req.UserID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: ts,
		IsSynced:  true,
	}, nil
}

func (s *Server) handleCreateLocation(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req locationRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	p, err := s.ping(me, req)
	if err != nil {
		return err
	}
	saved, err := s.locations.Insert(r.Context(), &p)
	if err != nil {
		return err
	}
	s.notify.Broadcast(r.Context(), realtime.Event{Type: realtime.LocationUpdate, Data: saved})
	writeJSON(w, http.StatusOK, saved)
	return nil
}

func (s *Server) handleCreateLocationBatch(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req locationBatchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	pings := make([]data.LocationPing, 0, len(req.Locations))
	for _, l := range req.Locations {
		p, err := s.ping(me, l)
		if err != nil {
			return err
		}
		pings = append(pings, p)
	}
	n, err := s.locations.InsertMany(r.Context(), pings)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
	return nil
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	base := bson.M{}
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		base["user_id"] = userID
	}
	filter, err := s.scope.Locations(r.Context(), me, base)
	if err != nil {
		return err
	}
	pings, err := s.locations.List(r.Context(), filter, locationListLimit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pings)
	return nil
}

func (s *Server) handleLatestLocations(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	filter, err := s.scope.Locations(r.Context(), me, nil)
	if err != nil {
		return err
	}
	pings, err := s.locations.Latest(r.Context(), filter)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, pings)
	return nil
}
