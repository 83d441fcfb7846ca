package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/fieldsync/internal/assistant"
	"github.com/PaulBabatuyi/fieldsync/internal/auth"
	"github.com/PaulBabatuyi/fieldsync/internal/config"
	"github.com/PaulBabatuyi/fieldsync/internal/data"
	"github.com/PaulBabatuyi/fieldsync/internal/db"
	"github.com/PaulBabatuyi/fieldsync/internal/middleware"
	"github.com/PaulBabatuyi/fieldsync/internal/realtime"
	"github.com/PaulBabatuyi/fieldsync/internal/scope"
)

type userStore interface {
	scope.SubordinateLister
	Create(ctx context.Context, u *data.User) (*data.User, error)
	GetByEmail(ctx context.Context, email string) (*data.User, error)
	GetByID(ctx context.Context, id string) (*data.User, error)
	List(ctx context.Context, filter bson.M) ([]data.User, error)
	IDs(ctx context.Context, filter bson.M) ([]string, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	Update(ctx context.Context, id string, set bson.M) (*data.User, error)
	Delete(ctx context.Context, id string) error
	SyncDevice(ctx context.Context, id string, device data.DeviceInfo, at time.Time) error
	Summaries(ctx context.Context, ids []string) (map[string]data.UserSummary, error)
}

type sessionManager interface {
	Open(ctx context.Context, user *data.User, meta auth.SessionMeta) (*auth.IssuedToken, error)
	Authenticate(ctx context.Context, token string) (*data.User, *auth.Claims, error)
	Close(ctx context.Context, claims *auth.Claims) error
	RevokeUser(ctx context.Context, userID string) error
}

type surveyStore interface {
	Create(ctx context.Context, s *data.Survey) (*data.Survey, error)
	FindOne(ctx context.Context, filter bson.M) (*data.Survey, error)
	List(ctx context.Context, filter bson.M) ([]data.Survey, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	Update(ctx context.Context, filter, set bson.M) (*data.Survey, error)
	AddMembers(ctx context.Context, id string, supervisorIDs, enumeratorIDs []string) error
}

type respondentStore interface {
	Create(ctx context.Context, r *data.Respondent) (*data.Respondent, error)
	FindOne(ctx context.Context, filter bson.M) (*data.Respondent, error)
	List(ctx context.Context, filter bson.M, limit int64) ([]data.Respondent, error)
	Update(ctx context.Context, filter, set bson.M) (*data.Respondent, error)
	CountByStatus(ctx context.Context, filter bson.M) (data.StatusCounts, error)
}

type locationStore interface {
	Insert(ctx context.Context, p *data.LocationPing) (*data.LocationPing, error)
	InsertMany(ctx context.Context, pings []data.LocationPing) (int, error)
	List(ctx context.Context, filter bson.M, limit int64) ([]data.LocationPing, error)
	Latest(ctx context.Context, filter bson.M) ([]data.LocationPing, error)
	ActiveUsers(ctx context.Context, filter bson.M, since time.Time) (int64, error)
}

type messageStore interface {
	Create(ctx context.Context, m *data.Message) (*data.Message, error)
	Get(ctx context.Context, id string) (*data.Message, error)
	List(ctx context.Context, filter bson.M, page data.Page) ([]data.Message, int64, error)
	Latest(ctx context.Context, filter bson.M) (*data.Message, error)
	Count(ctx context.Context, filter bson.M) (int64, error)
	Update(ctx context.Context, id string, set bson.M) (*data.Message, error)
	Edit(ctx context.Context, id, content string, at time.Time) (*data.Message, error)
	SoftDelete(ctx context.Context, id string, at time.Time) (*data.Message, error)
	MarkRead(ctx context.Context, id, userID string) (*data.Message, error)
	CountByType(ctx context.Context) (map[data.MessageType]int64, error)
	DailyCounts(ctx context.Context, since time.Time) ([]data.DailyCount, error)
}

type conversationStore interface {
	Touch(ctx context.Context, senderID, receiverID, snapshot string, at time.Time) (*data.Conversation, error)
	ResetUnread(ctx context.Context, conversationID, userID string) error
	ForUser(ctx context.Context, userID string) ([]data.Conversation, error)
}

type faqStore interface {
	Create(ctx context.Context, f *data.FAQItem) (*data.FAQItem, error)
	List(ctx context.Context) ([]data.FAQItem, error)
}

// settings are the domain tunables handlers read.
type settings struct {
	editWindow          time.Duration
	activeWindow        time.Duration
	bulkDefaultPassword string
}

// Server holds the stores and collaborators every handler needs.
type Server struct {
	users         userStore
	sessions      sessionManager
	surveys       surveyStore
	respondents   respondentStore
	locations     locationStore
	messages      messageStore
	conversations conversationStore
	faqs          faqStore

	scope     *scope.Resolver
	notify    realtime.Notifier
	hub       *realtime.Hub
	upgrader  *websocket.Upgrader
	assistant assistant.Answerer
	limiter   *middleware.LimiterStore

	settings settings
	now      func() time.Time
}

// newServer wires the MongoDB stores and collaborators into a Server.
func newServer(cfg *config.Config, client *db.Client, hub *realtime.Hub, notifier realtime.Notifier, limiter *middleware.LimiterStore) *Server {
	users := data.NewUsersStore(client.Collection(db.Users))
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL)
	return &Server{
		users:         users,
		sessions:      auth.NewSessions(jwtMgr, data.NewSessionsStore(client.Collection(db.Sessions)), users),
		surveys:       data.NewSurveysStore(client.Collection(db.Surveys)),
		respondents:   data.NewRespondentsStore(client.Collection(db.Respondents)),
		locations:     data.NewLocationsStore(client.Collection(db.Locations)),
		messages:      data.NewMessagesStore(client.Collection(db.Messages)),
		conversations: data.NewConversationsStore(client.Collection(db.Conversations)),
		faqs:          data.NewFAQsStore(client.Collection(db.FAQs)),
		scope:         scope.NewResolver(users),
		notify:        notifier,
		hub:           hub,
		upgrader:      realtime.NewUpgrader(cfg.AllowedOrigins),
		assistant:     assistant.NewGemini(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.AITimeout),
		limiter:       limiter,
		settings: settings{
			editWindow:          cfg.EditWindow,
			activeWindow:        cfg.ActiveWindow,
			bulkDefaultPassword: cfg.BulkDefaultPassword,
		},
		now: time.Now,
	}
}

// routes builds the HTTP handler: REST under /api, the WebSocket endpoint
// and the metrics exposition.
func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recovery, middleware.RequestLog)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/ws/{user_id}", apiHandler(s.handleWebSocket)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/", apiHandler(s.handleRoot)).Methods(http.MethodGet)

	limited := middleware.RateLimit(s.limiter)
	api.Handle("/auth/register", limited(apiHandler(s.handleRegister))).Methods(http.MethodPost)
	api.Handle("/auth/login", limited(apiHandler(s.handleLogin))).Methods(http.MethodPost)
	api.Handle("/auth/logout", s.authed(s.handleLogout)).Methods(http.MethodPost)
	api.Handle("/auth/me", s.authed(s.handleMe)).Methods(http.MethodGet)
	api.Handle("/auth/device-sync", s.authed(s.handleDeviceSync)).Methods(http.MethodPost)

	api.Handle("/users", s.authed(s.handleListUsers)).Methods(http.MethodGet)
	api.Handle("/users", s.authed(s.handleCreateUser, data.RoleAdmin)).Methods(http.MethodPost)
	api.Handle("/users/enumerators", s.authed(s.handleListEnumerators)).Methods(http.MethodGet)
	api.Handle("/users/{id}", s.authed(s.handleUpdateUser)).Methods(http.MethodPut)
	api.Handle("/users/{id}", s.authed(s.handleDeleteUser, data.RoleAdmin)).Methods(http.MethodDelete)

	managers := []data.Role{data.RoleAdmin, data.RoleSupervisor}
	api.Handle("/surveys", s.authed(s.handleCreateSurvey, managers...)).Methods(http.MethodPost)
	api.Handle("/surveys", s.authed(s.handleListSurveys)).Methods(http.MethodGet)
	api.Handle("/surveys/{id}", s.authed(s.handleGetSurvey)).Methods(http.MethodGet)
	api.Handle("/surveys/{id}", s.authed(s.handleUpdateSurvey, managers...)).Methods(http.MethodPut)
	api.Handle("/surveys/{id}/stats", s.authed(s.handleSurveyStats)).Methods(http.MethodGet)
	api.Handle("/surveys/{id}/assign", s.authed(s.handleAssignSurvey, managers...)).Methods(http.MethodPost)
	api.Handle("/surveys/{id}/bulk-upload", s.authed(s.handleBulkUpload, managers...)).Methods(http.MethodPost)

	api.Handle("/respondents", s.authed(s.handleCreateRespondent, managers...)).Methods(http.MethodPost)
	api.Handle("/respondents", s.authed(s.handleListRespondents)).Methods(http.MethodGet)
	api.Handle("/respondents/{id}", s.authed(s.handleGetRespondent)).Methods(http.MethodGet)
	api.Handle("/respondents/{id}", s.authed(s.handleUpdateRespondent)).Methods(http.MethodPut)

	api.Handle("/locations", s.authed(s.handleCreateLocation)).Methods(http.MethodPost)
	api.Handle("/locations/batch", s.authed(s.handleCreateLocationBatch)).Methods(http.MethodPost)
	api.Handle("/locations", s.authed(s.handleListLocations)).Methods(http.MethodGet)
	api.Handle("/locations/latest", s.authed(s.handleLatestLocations)).Methods(http.MethodGet)

	api.Handle("/messages", s.authed(s.handleCreateMessage)).Methods(http.MethodPost)
	api.Handle("/messages/batch", s.authed(s.handleCreateMessageBatch)).Methods(http.MethodPost)
	api.Handle("/messages", s.authed(s.handleListMessages)).Methods(http.MethodGet)
	api.Handle("/messages/history", s.authed(s.handleMessageHistory)).Methods(http.MethodGet)
	api.Handle("/messages/broadcasts", s.authed(s.handleListBroadcasts)).Methods(http.MethodGet)
	api.Handle("/messages/{id}", s.authed(s.handleEditMessage)).Methods(http.MethodPut)
	api.Handle("/messages/{id}", s.authed(s.handleDeleteMessage)).Methods(http.MethodDelete)
	api.Handle("/messages/{id}/respond", s.authed(s.handleRespondMessage)).Methods(http.MethodPut)
	api.Handle("/messages/{id}/read", s.authed(s.handleMarkRead)).Methods(http.MethodPut)

	api.Handle("/supervisor/conversations", s.authed(s.handleSupervisorConversations, managers...)).Methods(http.MethodGet)
	api.Handle("/supervisor/messages/{enumerator_id}", s.authed(s.handleSupervisorThread, managers...)).Methods(http.MethodGet)
	api.Handle("/supervisor/unanswered", s.authed(s.handleSupervisorUnanswered, managers...)).Methods(http.MethodGet)

	api.Handle("/admin/all-messages", s.authed(s.handleAdminAllMessages, data.RoleAdmin)).Methods(http.MethodGet)
	api.Handle("/admin/chat-stats", s.authed(s.handleAdminChatStats, data.RoleAdmin)).Methods(http.MethodGet)
	api.Handle("/admin/broadcast", s.authed(s.handleAdminBroadcast, data.RoleAdmin)).Methods(http.MethodPost)

	api.Handle("/faqs", apiHandler(s.handleListFAQs)).Methods(http.MethodGet)
	api.Handle("/faqs", s.authed(s.handleCreateFAQ, data.RoleAdmin)).Methods(http.MethodPost)

	api.Handle("/dashboard/stats", s.authed(s.handleDashboardStats)).Methods(http.MethodGet)

	api.Handle("/public/dashboard-stats", apiHandler(s.handlePublicDashboardStats)).Methods(http.MethodGet)
	api.Handle("/public/respondents", apiHandler(s.handlePublicRespondents)).Methods(http.MethodGet)
	api.Handle("/public/locations", apiHandler(s.handlePublicLocations)).Methods(http.MethodGet)
	api.Handle("/public/surveys", apiHandler(s.handlePublicSurveys)).Methods(http.MethodGet)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Field Data Collection API", "status": "online"})
	return nil
}
