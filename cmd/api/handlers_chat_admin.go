package main

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type conversationSummary struct {
	Enumerator      *data.User    `json:"enumerator"`
	LatestMessage   *data.Message `json:"latest_message"`
	UnreadCount     int64         `json:"unread_count"`
	UnansweredCount int64         `json:"unanswered_count"`
}

type threadPage struct {
	Enumerator *data.User     `json:"enumerator"`
	Messages   []data.Message `json:"messages"`
	Total      int64          `json:"total"`
	Limit      int64          `json:"limit"`
	Offset     int64          `json:"offset"`
}

type chatStats struct {
	TotalMessages      int64             `json:"total_messages"`
	AIMessages         int64             `json:"ai_messages"`
	SupervisorMessages int64             `json:"supervisor_messages"`
	BroadcastMessages  int64             `json:"broadcast_messages"`
	UnansweredMessages int64             `json:"unanswered_messages"`
	DailyStats         []data.DailyCount `json:"daily_stats"`
}

type broadcastRequest struct {
	Content     string      `json:"content"`
	TargetRoles []data.Role `json:"target_roles"`
	SurveyID    string      `json:"survey_id"`
}

const chatStatsDays = 7

// unanswered matches supervisor-type questions still waiting for a reply.
func unanswered() bson.M {
	return bson.M{"message_type": data.MessageSupervisor, "answered": false}
}

func (s *Server) handleSupervisorConversations(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	ctx := r.Context()

	enumerators, err := s.users.List(ctx, scope.Users(me, bson.M{"role": data.RoleEnumerator}))
	if err != nil {
		return err
	}
	convs, err := s.conversations.ForUser(ctx, me.ID.Hex())
	if err != nil {
		return err
	}
	unread := make(map[string]int64, len(convs))
	for _, c := range convs {
		for _, p := range c.Participants {
			if p != me.ID.Hex() {
				unread[p] = c.UnreadCount[me.ID.Hex()]
			}
		}
	}

	out := make([]conversationSummary, 0, len(enumerators))
	for i := range enumerators {
		enum := &enumerators[i]
		id := enum.ID.Hex()
		latest, err := s.messages.Latest(ctx, scope.And(
			bson.M{"message_type": data.MessageSupervisor},
			data.NotDeleted(),
			scope.Participant(id),
		))
		if err != nil && !errors.Is(err, data.ErrNotFound) {
			return err
		}
		pending, err := s.messages.Count(ctx, scope.And(unanswered(), data.NotDeleted(), bson.M{"sender_id": id}))
		if err != nil {
			return err
		}
		out = append(out, conversationSummary{
			Enumerator:      enum,
			LatestMessage:   latest,
			UnreadCount:     unread[id],
			UnansweredCount: pending,
		})
	}

	// most recent conversation first; enumerators without messages last
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LatestMessage, out[j].LatestMessage
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Timestamp.After(b.Timestamp)
	})
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) handleSupervisorThread(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	enumID := mux.Vars(r)["enumerator_id"]
	page, err := pageFrom(r, 50, 200)
	if err != nil {
		return err
	}

	enum, err := s.users.GetByID(r.Context(), enumID)
	if err != nil {
		return named(err, "Enumerator")
	}
	if me.Role == data.RoleSupervisor && enum.SupervisorID != me.ID.Hex() {
		return errForbidden("This enumerator is not under your supervision")
	}

	filter := scope.And(
		bson.M{"message_type": data.MessageSupervisor},
		data.NotDeleted(),
		scope.Participant(enumID),
	)
	msgs, total, err := s.messages.List(r.Context(), filter, page)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, threadPage{Enumerator: enum, Messages: msgs, Total: total, Limit: page.Limit, Offset: page.Offset})
	return nil
}

func (s *Server) handleSupervisorUnanswered(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	filter, err := s.scope.Owned(r.Context(), me, scope.And(unanswered(), data.NotDeleted()), "sender_id")
	if err != nil {
		return err
	}
	msgs, _, err := s.messages.List(r.Context(), filter, data.Page{Limit: messageListLimit})
	if err != nil {
		return err
	}
	views, err := s.views(r.Context(), msgs, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, views)
	return nil
}

func (s *Server) handleAdminAllMessages(w http.ResponseWriter, r *http.Request) error {
	page, err := pageFrom(r, 100, 500)
	if err != nil {
		return err
	}
	clauses := []bson.M{data.NotDeleted()}
	if t := r.URL.Query().Get("message_type"); t != "" {
		clauses = append(clauses, bson.M{"message_type": t})
	}
	msgs, total, err := s.messages.List(r.Context(), scope.And(clauses...), page)
	if err != nil {
		return err
	}
	views, err := s.views(r.Context(), msgs, true)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, messagePage{Messages: views, Total: total, Limit: page.Limit, Offset: page.Offset})
	return nil
}

func (s *Server) handleAdminChatStats(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	byType, err := s.messages.CountByType(ctx)
	if err != nil {
		return err
	}
	pending, err := s.messages.Count(ctx, scope.And(unanswered(), data.NotDeleted()))
	if err != nil {
		return err
	}
	daily, err := s.messages.DailyCounts(ctx, s.now().UTC().AddDate(0, 0, -chatStatsDays))
	if err != nil {
		return err
	}

	var total int64
	for _, n := range byType {
		total += n
	}
	writeJSON(w, http.StatusOK, chatStats{
		TotalMessages:      total,
		AIMessages:         byType[data.MessageAI],
		SupervisorMessages: byType[data.MessageSupervisor],
		BroadcastMessages:  byType[data.MessageBroadcast],
		UnansweredMessages: pending,
		DailyStats:         daily,
	})
	return nil
}

func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req broadcastRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	msgReq := createMessageRequest{
		MessageType: data.MessageBroadcast,
		Content:     strings.TrimSpace(req.Content),
		TargetRoles: req.TargetRoles,
		SurveyID:    req.SurveyID,
	}
	if err := msgReq.validate(me); err != nil {
		return err
	}
	msg, recipients, err := s.createMessage(r.Context(), me, msgReq, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg, "recipients_count": recipients})
	return nil
}
