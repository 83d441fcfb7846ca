package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

type respondentFixture struct {
	e                 *testEnv
	admin, sup, other *data.User
	enum, stranger    *data.User
	survey            *data.Survey
	mine, theirs      *data.Respondent
}

// newRespondentFixture builds two teams: sup leads enum, other leads
// stranger. Each enumerator owns one respondent.
func newRespondentFixture(t *testing.T) *respondentFixture {
	e := newTestEnv(t)
	f := &respondentFixture{e: e}
	f.admin = e.user(data.RoleAdmin, "")
	f.sup = e.user(data.RoleSupervisor, "")
	f.other = e.user(data.RoleSupervisor, "")
	f.enum = e.user(data.RoleEnumerator, f.sup.ID.Hex())
	f.stranger = e.user(data.RoleEnumerator, f.other.ID.Hex())

	ctx := context.Background()
	var err error
	f.survey, err = e.surveys.Create(ctx, &data.Survey{Title: "Household", RegionLevel: "state", RegionName: "Lagos", IsActive: true})
	require.NoError(t, err)
	f.mine, err = e.respondents.Create(ctx, &data.Respondent{
		Name: "Amaka", Status: data.StatusPending, SurveyID: f.survey.ID.Hex(), EnumeratorID: f.enum.ID.Hex(),
	})
	require.NoError(t, err)
	f.theirs, err = e.respondents.Create(ctx, &data.Respondent{
		Name: "Bayo", Status: data.StatusPending, SurveyID: f.survey.ID.Hex(), EnumeratorID: f.stranger.ID.Hex(),
	})
	require.NoError(t, err)
	return f
}

func respondentIDs(t *testing.T, e *testEnv, token, path string) []string {
	t.Helper()
	rec := e.do(http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ids []string
	for _, r := range decode[[]data.Respondent](t, rec) {
		ids = append(ids, r.ID.Hex())
	}
	slices.Sort(ids)
	return ids
}

func TestListRespondentsIsScoped(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	both := []string{f.mine.ID.Hex(), f.theirs.ID.Hex()}
	slices.Sort(both)

	require.Equal(t, both, respondentIDs(t, e, e.login(f.admin), "/api/respondents"))
	require.Equal(t, []string{f.mine.ID.Hex()}, respondentIDs(t, e, e.login(f.sup), "/api/respondents"))
	require.Equal(t, []string{f.mine.ID.Hex()}, respondentIDs(t, e, e.login(f.enum), "/api/respondents?survey_id="+f.survey.ID.Hex()))
	require.Empty(t, respondentIDs(t, e, e.login(f.enum), "/api/respondents?survey_id=other"))
}

func TestGetRespondentHidesOtherTeams(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	token := e.login(f.sup)

	rec := e.do(http.MethodGet, "/api/respondents/"+f.mine.ID.Hex(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Amaka", decode[data.Respondent](t, rec).Name)

	requireError(t, e.do(http.MethodGet, "/api/respondents/"+f.theirs.ID.Hex(), token, nil),
		http.StatusNotFound, "Respondent not found")
	requireError(t, e.do(http.MethodGet, "/api/respondents/not-an-id", token, nil),
		http.StatusNotFound, "Respondent not found")
}

func TestCreateRespondent(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	supToken := e.login(f.sup)

	rec := e.do(http.MethodPost, "/api/respondents", supToken, map[string]any{
		"name": "Chidi", "survey_id": f.survey.ID.Hex(), "enumerator_id": f.enum.ID.Hex(),
		"location": map[string]float64{"latitude": 6.5, "longitude": 3.4},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[data.Respondent](t, rec)
	require.Equal(t, data.StatusPending, created.Status)
	require.Equal(t, f.sup.ID.Hex(), created.AssignedBy)
	require.Equal(t, 6.5, created.Location.Latitude)

	requireError(t, e.do(http.MethodPost, "/api/respondents", supToken, map[string]any{
		"name": "Dayo", "survey_id": f.survey.ID.Hex(), "enumerator_id": f.stranger.ID.Hex(),
	}), http.StatusForbidden, "Supervisors can only assign their own enumerators")

	requireError(t, e.do(http.MethodPost, "/api/respondents", supToken, map[string]any{
		"name": "Dayo", "survey_id": "64b7f0c2a1b2c3d4e5f60718",
	}), http.StatusBadRequest, "survey 64b7f0c2a1b2c3d4e5f60718 does not exist")

	requireError(t, e.do(http.MethodPost, "/api/respondents", e.login(f.enum), map[string]any{
		"name": "Dayo", "survey_id": f.survey.ID.Hex(),
	}), http.StatusForbidden, "Not enough permissions")
}

func TestUpdateRespondentNotifiesAudienceOnce(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e

	rec := e.do(http.MethodPut, "/api/respondents/"+f.mine.ID.Hex(), e.login(f.enum), map[string]any{
		"status":      "completed",
		"survey_data": map[string]any{"household_size": 4},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[data.Respondent](t, rec)
	require.Equal(t, data.StatusCompleted, updated.Status)
	require.EqualValues(t, 4, updated.SurveyData["household_size"])
	require.True(t, e.clock.Equal(updated.UpdatedAt))

	pushes := e.notify.ofType(realtime.RespondentUpdate)
	require.Len(t, pushes, 1)
	require.ElementsMatch(t, []string{f.admin.ID.Hex(), f.enum.ID.Hex(), f.sup.ID.Hex()}, pushes[0].targets)
	require.False(t, pushes[0].all)
}

func TestConcurrentRespondentUpdatesLastWriteWins(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	path := "/api/respondents/" + f.mine.ID.Hex()
	writers := []struct {
		token  string
		status data.RespondentStatus
	}{
		{e.login(f.enum), data.StatusInProgress},
		{e.login(f.sup), data.StatusCompleted},
	}

	codes := make([]int, len(writers))
	var wg sync.WaitGroup
	for i, w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"status":"`+string(w.status)+`"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+w.token)
			rec := httptest.NewRecorder()
			e.handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	require.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	stored, err := e.respondents.FindOne(context.Background(), byHex(f.mine.ID.Hex()))
	require.NoError(t, err)
	require.Contains(t, []data.RespondentStatus{data.StatusInProgress, data.StatusCompleted}, stored.Status)
	require.Len(t, e.notify.ofType(realtime.RespondentUpdate), 2)
}

func TestUpdateRespondentRejections(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	enumToken := e.login(f.enum)
	path := "/api/respondents/" + f.mine.ID.Hex()

	requireError(t, e.do(http.MethodPut, path, enumToken, map[string]any{"status": "done"}),
		http.StatusBadRequest, "status must be one of pending, in_progress, completed")

	rec := e.do(http.MethodPut, path, enumToken, map[string]any{"status": "completed", "name": "x"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	requireError(t, e.do(http.MethodPut, path, enumToken, map[string]any{"enumerator_id": f.stranger.ID.Hex()}),
		http.StatusForbidden, "Enumerators cannot reassign respondents")
	requireError(t, e.do(http.MethodPut, path, enumToken, map[string]any{"enumerator_id": ""}),
		http.StatusForbidden, "Enumerators cannot reassign respondents")

	requireError(t, e.do(http.MethodPut, "/api/respondents/"+f.theirs.ID.Hex(), enumToken, map[string]any{"status": "completed"}),
		http.StatusNotFound, "Respondent not found")
	require.Empty(t, e.notify.pushes)
}

func TestAdminReassignsRespondent(t *testing.T) {
	f := newRespondentFixture(t)
	e := f.e
	e.clock = e.clock.Add(time.Hour)

	rec := e.do(http.MethodPut, "/api/respondents/"+f.mine.ID.Hex(), e.login(f.admin), map[string]any{
		"enumerator_id": f.stranger.ID.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, f.stranger.ID.Hex(), decode[data.Respondent](t, rec).EnumeratorID)

	pushes := e.notify.ofType(realtime.RespondentUpdate)
	require.Len(t, pushes, 1)
	require.ElementsMatch(t, []string{f.admin.ID.Hex(), f.stranger.ID.Hex(), f.other.ID.Hex()}, pushes[0].targets)
}
