package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
)

type broadcastResponse struct {
	Success         bool         `json:"success"`
	Message         data.Message `json:"message"`
	RecipientsCount int          `json:"recipients_count"`
}

func TestAdminBroadcastReachesTargetRoles(t *testing.T) {
	e := newTestEnv(t)
	admin := e.user(data.RoleAdmin, "")
	sup := e.user(data.RoleSupervisor, "")
	enum1 := e.user(data.RoleEnumerator, sup.ID.Hex())
	enum2 := e.user(data.RoleEnumerator, "")

	rec := e.do(http.MethodPost, "/api/admin/broadcast", e.login(admin), map[string]any{
		"content": "  Sync before 6pm  ", "target_roles": []string{"enumerator"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[broadcastResponse](t, rec)
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.RecipientsCount)
	require.Equal(t, data.MessageBroadcast, resp.Message.MessageType)
	require.Equal(t, "Sync before 6pm", resp.Message.Content)
	require.ElementsMatch(t, []string{enum1.ID.Hex(), enum2.ID.Hex()}, resp.Message.TargetUserIDs)

	pushes := e.notify.ofType(realtime.BroadcastMessage)
	require.Len(t, pushes, 1)
	require.ElementsMatch(t, []string{enum1.ID.Hex(), enum2.ID.Hex()}, pushes[0].targets)

	seen := decode[[]data.MessageView](t, e.do(http.MethodGet, "/api/messages/broadcasts", e.login(enum1), nil))
	require.Len(t, seen, 1)
	require.Equal(t, admin.ID.Hex(), seen[0].Sender.ID)
	require.Empty(t, decode[[]data.MessageView](t, e.do(http.MethodGet, "/api/messages/broadcasts?offset=1", e.login(enum1), nil)))
	require.Empty(t, decode[[]data.MessageView](t, e.do(http.MethodGet, "/api/messages/broadcasts", e.login(sup), nil)))
}

func TestSurveyBroadcastReachesMembersOnly(t *testing.T) {
	e := newTestEnv(t)
	admin := e.user(data.RoleAdmin, "")
	member := e.user(data.RoleEnumerator, "")
	e.user(data.RoleEnumerator, "")
	survey, err := e.surveys.Create(context.Background(), &data.Survey{Title: "S", EnumeratorIDs: []string{member.ID.Hex()}})
	require.NoError(t, err)
	token := e.login(admin)

	// defaults to enumerators and supervisors, narrowed to survey members
	rec := e.do(http.MethodPost, "/api/admin/broadcast", token, map[string]any{
		"content": "Survey closes Friday", "survey_id": survey.ID.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[broadcastResponse](t, rec)
	require.Equal(t, 1, resp.RecipientsCount)
	require.Equal(t, []string{member.ID.Hex()}, resp.Message.TargetUserIDs)
	require.Equal(t, survey.ID.Hex(), resp.Message.TargetSurveyID)

	requireError(t, e.do(http.MethodPost, "/api/admin/broadcast", token, map[string]any{
		"content": "x", "survey_id": "64b7f0c2a1b2c3d4e5f60718",
	}), http.StatusNotFound, "Survey not found")
	requireError(t, e.do(http.MethodPost, "/api/admin/broadcast", token, map[string]any{"content": " "}),
		http.StatusBadRequest, "content is required")
	requireError(t, e.do(http.MethodPost, "/api/admin/broadcast", token, map[string]any{
		"content": "x", "target_roles": []string{"guest"},
	}), http.StatusBadRequest, `unknown target role "guest"`)
}

func TestSupervisorThreadAndUnanswered(t *testing.T) {
	e := newTestEnv(t)
	sup := e.user(data.RoleSupervisor, "")
	otherSup := e.user(data.RoleSupervisor, "")
	enum := e.user(data.RoleEnumerator, sup.ID.Hex())
	stranger := e.user(data.RoleEnumerator, otherSup.ID.Hex())

	sendMessage(t, e, e.login(enum), map[string]any{"message_type": "supervisor", "content": "mine"})
	sendMessage(t, e, e.login(stranger), map[string]any{"message_type": "supervisor", "content": "theirs"})
	supToken := e.login(sup)

	rec := e.do(http.MethodGet, "/api/supervisor/messages/"+enum.ID.Hex(), supToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	thread := decode[threadPage](t, rec)
	require.Equal(t, enum.ID, thread.Enumerator.ID)
	require.EqualValues(t, 1, thread.Total)
	require.EqualValues(t, 50, thread.Limit)
	require.Equal(t, "mine", thread.Messages[0].Content)

	requireError(t, e.do(http.MethodGet, "/api/supervisor/messages/"+stranger.ID.Hex(), supToken, nil),
		http.StatusForbidden, "This enumerator is not under your supervision")
	requireError(t, e.do(http.MethodGet, "/api/supervisor/messages/64b7f0c2a1b2c3d4e5f60718", supToken, nil),
		http.StatusNotFound, "Enumerator not found")

	pending := decode[[]data.MessageView](t, e.do(http.MethodGet, "/api/supervisor/unanswered", supToken, nil))
	require.Len(t, pending, 1)
	require.Equal(t, "mine", pending[0].Content)
	require.Equal(t, enum.ID.Hex(), pending[0].Sender.ID)

	require.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/supervisor/unanswered", e.login(enum), nil).Code)
}

func TestAdminChatStatsAndAllMessages(t *testing.T) {
	e := newTestEnv(t)
	admin := e.user(data.RoleAdmin, "")
	sup := e.user(data.RoleSupervisor, "")
	enum := e.user(data.RoleEnumerator, sup.ID.Hex())
	enumToken := e.login(enum)

	sendMessage(t, e, enumToken, map[string]any{"message_type": "ai", "content": "q1"})
	e.clock = e.clock.Add(24 * time.Hour)
	sendMessage(t, e, enumToken, map[string]any{"message_type": "supervisor", "content": "q2"})
	gone := sendMessage(t, e, enumToken, map[string]any{"message_type": "supervisor", "content": "q3"})
	require.Equal(t, http.StatusOK, e.do(http.MethodDelete, "/api/messages/"+gone.ID.Hex(), enumToken, nil).Code)

	adminToken := e.login(admin)
	rec := e.do(http.MethodGet, "/api/admin/chat-stats", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[chatStats](t, rec)
	require.EqualValues(t, 2, stats.TotalMessages)
	require.EqualValues(t, 1, stats.AIMessages)
	require.EqualValues(t, 1, stats.SupervisorMessages)
	require.EqualValues(t, 1, stats.UnansweredMessages)
	require.Equal(t, []data.DailyCount{{Date: "2026-03-02", Count: 1}, {Date: "2026-03-03", Count: 1}}, stats.DailyStats)

	page := decode[messagePage](t, e.do(http.MethodGet, "/api/admin/all-messages?message_type=supervisor", adminToken, nil))
	require.EqualValues(t, 1, page.Total)
	require.EqualValues(t, 100, page.Limit)
	require.Equal(t, enum.ID.Hex(), page.Messages[0].Sender.ID)
	require.Equal(t, sup.ID.Hex(), page.Messages[0].Receiver.ID)
}
