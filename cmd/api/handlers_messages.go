package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/assistant"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type createMessageRequest struct {
	ReceiverID     string           `json:"receiver_id"`
	MessageType    data.MessageType `json:"message_type"`
	Content        string           `json:"content"`
	ConversationID string           `json:"conversation_id"`
	Timestamp      *time.Time       `json:"timestamp"`
	// broadcast only
	TargetRoles []data.Role `json:"target_roles"`
	SurveyID    string      `json:"survey_id"`
}

func (req *createMessageRequest) validate(caller *data.User) error {
	if strings.TrimSpace(req.Content) == "" {
		return errBadRequest("content is required")
	}
	if !req.MessageType.Valid() {
		return errBadRequest("message_type must be one of ai, supervisor, broadcast")
	}
	if req.MessageType == data.MessageBroadcast && caller.Role != data.RoleAdmin {
		return errForbidden("Only admins can send broadcast messages")
	}
	for _, role := range req.TargetRoles {
		if !role.Valid() {
			return errBadRequest("unknown target role %q", role)
		}
	}
	return nil
}

type messageBatchRequest struct {
	Messages []createMessageRequest `json:"messages"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type respondMessageRequest struct {
	Response string `json:"response"`
}

type messagePage struct {
	Messages []data.MessageView `json:"messages"`
	Total    int64              `json:"total"`
	Limit    int64              `json:"limit"`
	Offset   int64              `json:"offset"`
}

const messageListLimit = 1000

// defaultBroadcastRoles receive a broadcast that names no target roles.
var defaultBroadcastRoles = []data.Role{data.RoleEnumerator, data.RoleSupervisor}

// pageFrom reads limit and offset query parameters. limit falls back to def
// and is capped at ceiling.
func pageFrom(r *http.Request, def, ceiling int64) (data.Page, error) {
	page := data.Page{Limit: def}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return page, errBadRequest("limit must be a positive integer")
		}
		page.Limit = min(n, ceiling)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return page, errBadRequest("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}

// views attaches sender (and optionally receiver) identities to msgs.
func (s *Server) views(ctx context.Context, msgs []data.Message, withReceiver bool) ([]data.MessageView, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
		if withReceiver && m.ReceiverID != "" {
			ids = append(ids, m.ReceiverID)
		}
	}
	people, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]data.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := data.MessageView{Message: m}
		if p, ok := people[m.SenderID]; ok {
			v.Sender = &p
		}
		if withReceiver {
			if p, ok := people[m.ReceiverID]; ok {
				v.Receiver = &p
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// createMessage stores one message from caller and pushes it to whoever
// must hear about it. req must already be validated. Only queued messages
// keep their client timestamp, and never one later than now.
func (s *Server) createMessage(ctx context.Context, caller *data.User, req createMessageRequest, queued bool) (*data.Message, int, error) {
	ts := s.now().UTC()
	if queued && req.Timestamp != nil && !req.Timestamp.IsZero() && req.Timestamp.Before(ts) {
		ts = req.Timestamp.UTC()
	}
	msg := &data.Message{
		SenderID:       caller.ID.Hex(),
		ReceiverID:     req.ReceiverID,
		MessageType:    req.MessageType,
		Content:        req.Content,
		Timestamp:      ts,
		IsSynced:       true,
		ReadBy:         []string{caller.ID.Hex()},
		ConversationID: req.ConversationID,
	}

	switch req.MessageType {
	case data.MessageAI:
		msg.Response = assistant.Reply(ctx, s.assistant, req.Content)
		msg.Answered = true
		saved, err := s.messages.Create(ctx, msg)
		return saved, 0, err

	case data.MessageSupervisor:
		if msg.ReceiverID == "" {
			msg.ReceiverID = caller.SupervisorID
		}
		if msg.ReceiverID == "" {
			return nil, 0, errBadRequest("receiver_id is required: no supervisor is assigned to you")
		}
		if _, err := s.users.GetByID(ctx, msg.ReceiverID); err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return nil, 0, errBadRequest("receiver %s does not exist", msg.ReceiverID)
			}
			return nil, 0, err
		}
		conv, err := s.conversations.Touch(ctx, msg.SenderID, msg.ReceiverID, req.Content, ts)
		if err != nil {
			return nil, 0, fmt.Errorf("touch conversation: %w", err)
		}
		msg.ConversationID = conv.ID.Hex()
		saved, err := s.messages.Create(ctx, msg)
		if err != nil {
			return nil, 0, err
		}
		s.notify.Unicast(ctx, saved.ReceiverID, realtime.Event{Type: realtime.NewMessage, Data: saved})
		return saved, 1, nil

	default:
		return s.createBroadcast(ctx, caller, msg, req.TargetRoles, req.SurveyID)
	}
}

// createBroadcast resolves the audience of a broadcast, stores the message
// with that audience and multicasts it.
func (s *Server) createBroadcast(ctx context.Context, caller *data.User, msg *data.Message, roles []data.Role, surveyID string) (*data.Message, int, error) {
	if len(roles) == 0 {
		roles = defaultBroadcastRoles
	}
	query := bson.M{"role": bson.M{"$in": roles}}
	if surveyID != "" {
		byID, err := data.ByID(surveyID)
		if err != nil {
			return nil, 0, errNotFound("Survey")
		}
		survey, err := s.surveys.FindOne(ctx, byID)
		if err != nil {
			return nil, 0, named(err, "Survey")
		}
		members := append(append([]string{}, survey.SupervisorIDs...), survey.EnumeratorIDs...)
		query["_id"] = bson.M{"$in": data.ObjectIDs(members)}
	}
	targets, err := s.users.IDs(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve broadcast targets: %w", err)
	}

	msg.MessageType = data.MessageBroadcast
	msg.ReceiverID = ""
	msg.Answered = true
	msg.ReadBy = []string{caller.ID.Hex()}
	msg.TargetRoles = roles
	msg.TargetSurveyID = surveyID
	msg.TargetUserIDs = targets

	saved, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, 0, err
	}
	s.notify.Multicast(ctx, targets, realtime.Event{Type: realtime.BroadcastMessage, Data: saved})
	return saved, len(targets), nil
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req createMessageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if err := req.validate(me); err != nil {
		return err
	}
	msg, _, err := s.createMessage(r.Context(), me, req, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, msg)
	return nil
}

func (s *Server) handleCreateMessageBatch(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	var req messageBatchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	for i := range req.Messages {
		if err := req.Messages[i].validate(me); err != nil {
			var ae *apiError
			if errors.As(err, &ae) {
				return &apiError{Status: ae.Status, Message: fmt.Sprintf("messages[%d]: %s", i, ae.Message)}
			}
			return err
		}
	}

	created := make([]*data.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, _, err := s.createMessage(r.Context(), me, m, true)
		if err != nil {
			return err
		}
		created = append(created, msg)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(created), "messages": created})
	return nil
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	clauses := []bson.M{data.NotDeleted(), scope.Participant(me.ID.Hex())}
	if t := r.URL.Query().Get("message_type"); t != "" {
		clauses = append(clauses, bson.M{"message_type": t})
	}
	msgs, _, err := s.messages.List(r.Context(), scope.And(clauses...), data.Page{Limit: messageListLimit})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, msgs)
	return nil
}

func (s *Server) handleMessageHistory(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	page, err := pageFrom(r, 50, 200)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	clauses := []bson.M{data.NotDeleted()}
	if v := q.Get("conversation_id"); v != "" {
		clauses = append(clauses, bson.M{"conversation_id": v})
	}
	if v := q.Get("message_type"); v != "" {
		clauses = append(clauses, bson.M{"message_type": v})
	}
	if v := q.Get("user_id"); v != "" {
		clauses = append(clauses, scope.Participant(v))
	}
	filter, err := s.scope.Messages(r.Context(), me, scope.And(clauses...))
	if err != nil {
		return err
	}

	msgs, total, err := s.messages.List(r.Context(), filter, page)
	if err != nil {
		return err
	}
	views, err := s.views(r.Context(), msgs, false)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, messagePage{Messages: views, Total: total, Limit: page.Limit, Offset: page.Offset})
	return nil
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	page, err := pageFrom(r, 20, 100)
	if err != nil {
		return err
	}
	filter := scope.And(
		bson.M{"message_type": data.MessageBroadcast},
		data.NotDeleted(),
		bson.M{"$or": bson.A{
			bson.M{"target_user_ids": me.ID.Hex()},
			bson.M{"target_roles": me.Role},
		}},
	)
	msgs, _, err := s.messages.List(r.Context(), filter, page)
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

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	var req editMessageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.Content) == "" {
		return errBadRequest("content is required")
	}

	msg, err := s.messages.Get(r.Context(), id)
	if err != nil {
		return named(err, "Message")
	}
	if msg.SenderID != me.ID.Hex() {
		return errForbidden("You can only edit your own messages")
	}
	now := s.now().UTC()
	if now.Sub(msg.Timestamp) > s.settings.editWindow {
		return errBadRequest("Message can only be edited within %d minutes of sending", int(s.settings.editWindow.Minutes()))
	}

	edited, err := s.messages.Edit(r.Context(), id, req.Content, now)
	if err != nil {
		return named(err, "Message")
	}
	if edited.ReceiverID != "" {
		s.notify.Unicast(r.Context(), edited.ReceiverID, realtime.Event{Type: realtime.MessageEdited, Data: edited})
	}
	writeJSON(w, http.StatusOK, edited)
	return nil
}

func (s *Server) handleRespondMessage(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	var req respondMessageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		return err
	}
	if strings.TrimSpace(req.Response) == "" {
		return errBadRequest("response is required")
	}

	msg, err := s.messages.Get(r.Context(), id)
	if err != nil {
		return named(err, "Message")
	}
	if me.Role == data.RoleEnumerator {
		return errForbidden("Only supervisors can respond to these messages")
	}
	ok, err := s.scope.CanAccessUser(r.Context(), me, msg.SenderID)
	if err != nil {
		return err
	}
	if !ok {
		return errForbidden("This enumerator is not under your supervision")
	}

	now := s.now().UTC()
	answered, err := s.messages.Update(r.Context(), id, bson.M{
		"response":    req.Response,
		"answered":    true,
		"answered_by": me.ID.Hex(),
		"answered_at": now,
	})
	if err != nil {
		return named(err, "Message")
	}
	s.notify.Unicast(r.Context(), answered.SenderID, realtime.Event{Type: realtime.MessageResponse, Data: answered})
	writeJSON(w, http.StatusOK, answered)
	return nil
}

// partyTo reports whether me sent or received msg, or is in a broadcast's
// audience. Admins are party to every message.
func partyTo(me *data.User, msg *data.Message) bool {
	id := me.ID.Hex()
	switch {
	case me.Role == data.RoleAdmin, msg.SenderID == id, msg.ReceiverID == id:
		return true
	case msg.MessageType == data.MessageBroadcast:
		return slices.Contains(msg.TargetUserIDs, id) || slices.Contains(msg.TargetRoles, me.Role)
	}
	return false
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	msg, err := s.messages.Get(r.Context(), id)
	if err != nil {
		return named(err, "Message")
	}
	// outsiders get the same answer as for a missing message
	if !partyTo(me, msg) {
		return errNotFound("Message")
	}
	msg, err = s.messages.MarkRead(r.Context(), id, me.ID.Hex())
	if err != nil {
		return named(err, "Message")
	}
	if msg.ConversationID != "" {
		if err := s.conversations.ResetUnread(r.Context(), msg.ConversationID, me.ID.Hex()); err != nil && !errors.Is(err, data.ErrNotFound) {
			return err
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	return nil
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) error {
	me := mustCaller(r)
	id := mux.Vars(r)["id"]
	msg, err := s.messages.Get(r.Context(), id)
	if err != nil {
		return named(err, "Message")
	}
	if msg.SenderID != me.ID.Hex() && me.Role != data.RoleAdmin {
		return errForbidden("You can only delete your own messages")
	}
	if _, err := s.messages.SoftDelete(r.Context(), id, s.now().UTC()); err != nil {
		return named(err, "Message")
	}
	if msg.ReceiverID != "" {
		s.notify.Unicast(r.Context(), msg.ReceiverID, realtime.Event{
			Type: realtime.MessageDeleted,
			Data: map[string]string{"message_id": id},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Message deleted"})
	return nil
}
