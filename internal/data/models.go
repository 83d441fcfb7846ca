package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleEnumerator Role = "enumerator"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleEnumerator:
		return true
	}
	return false
}

// RespondentStatus is the closed set of respondent states. Any state may be
// set from any other; no transition graph is enforced.
type RespondentStatus string

const (
	StatusPending    RespondentStatus = "pending"
	StatusInProgress RespondentStatus = "in_progress"
	StatusCompleted  RespondentStatus = "completed"
)

// Valid reports whether s is a known status.
func (s RespondentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// MessageType distinguishes AI questions, supervisor chat and broadcasts.
type MessageType string

const (
	MessageAI         MessageType = "ai"
	MessageSupervisor MessageType = "supervisor"
	MessageBroadcast  MessageType = "broadcast"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageAI, MessageSupervisor, MessageBroadcast:
		return true
	}
	return false
}

// DeviceInfo is the client device snapshot sent on login and device-sync.
type DeviceInfo struct {
	DeviceModel           string `bson:"device_model,omitempty" json:"device_model,omitempty"`
	OSVersion             string `bson:"os_version,omitempty" json:"os_version,omitempty"`
	AppVersion            string `bson:"app_version,omitempty" json:"app_version,omitempty"`
	DeviceID              string `bson:"device_id,omitempty" json:"device_id,omitempty"`
	IsDeviceRooted        bool   `bson:"is_device_rooted" json:"is_device_rooted"`
	IsEmulator            bool   `bson:"is_emulator" json:"is_emulator"`
	IsMockLocationEnabled bool   `bson:"is_mock_location_enabled" json:"is_mock_location_enabled"`
}

// User maps to the users collection. Password holds the bcrypt hash and is
// never serialized to clients.
type User struct {
	ID               bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Username         string        `bson:"username" json:"username"`
	Email            string        `bson:"email" json:"email"`
	Password         string        `bson:"password" json:"-"`
	Role             Role          `bson:"role" json:"role"`
	SupervisorID     string        `bson:"supervisor_id,omitempty" json:"supervisor_id,omitempty"`
	TeamID           string        `bson:"team_id,omitempty" json:"team_id,omitempty"`
	AssignedSurveys  []string      `bson:"assigned_surveys" json:"assigned_surveys"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt        *time.Time    `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
	LastLoginAt      *time.Time    `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
	LastActiveAt     *time.Time    `bson:"last_active_at,omitempty" json:"last_active_at,omitempty"`
	CurrentSessionID string        `bson:"current_session_id,omitempty" json:"-"`
	LastDeviceInfo   *DeviceInfo   `bson:"last_device_info,omitempty" json:"last_device_info,omitempty"`
}

// Summary returns the public identity fields used to enrich messages.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID.Hex(), Username: u.Username, Email: u.Email, Role: u.Role}
}

// UserSummary is the reduced user shape embedded in message listings.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Session is one issued login. A user has at most one session that is not
// revoked; issuing a new one revokes the rest.
type Session struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"user_id"`
	CreatedAt    time.Time  `bson:"created_at"`
	ExpiresAt    time.Time  `bson:"expires_at"`
	RevokedAt    *time.Time `bson:"revoked_at,omitempty"`
	RevokeReason string     `bson:"revoke_reason,omitempty"`
	DeviceID     string     `bson:"device_id,omitempty"`
	UserAgent    string     `bson:"user_agent,omitempty"`
	RemoteAddr   string     `bson:"remote_addr,omitempty"`
}

// Active reports whether the session can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Survey maps to the surveys collection.
type Survey struct {
	ID                 bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Title              string        `bson:"title" json:"title"`
	Description        string        `bson:"description,omitempty" json:"description,omitempty"`
	StartDate          time.Time     `bson:"start_date" json:"start_date"`
	EndDate            time.Time     `bson:"end_date" json:"end_date"`
	RegionLevel        string        `bson:"region_level" json:"region_level"`
	RegionName         string        `bson:"region_name" json:"region_name"`
	SupervisorIDs      []string      `bson:"supervisor_ids" json:"supervisor_ids"`
	EnumeratorIDs      []string      `bson:"enumerator_ids" json:"enumerator_ids"`
	CreatedBy          string        `bson:"created_by" json:"created_by"`
	CreatedAt          time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt          *time.Time    `bson:"updated_at,omitempty" json:"updated_at,omitempty"`
	IsActive           bool          `bson:"is_active" json:"is_active"`
	GeoJSONPath        string        `bson:"geojson_path,omitempty" json:"geojson_path,omitempty"`
	GeoJSONFilterField string        `bson:"geojson_filter_field,omitempty" json:"geojson_filter_field,omitempty"`
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
}

// Respondent maps to the respondents collection.
type Respondent struct {
	ID           bson.ObjectID    `bson:"_id,omitempty" json:"id"`
	Name         string           `bson:"name" json:"name"`
	Phone        string           `bson:"phone" json:"phone"`
	Address      string           `bson:"address" json:"address"`
	Location     GeoPoint         `bson:"location" json:"location"`
	Status       RespondentStatus `bson:"status" json:"status"`
	SurveyID     string           `bson:"survey_id" json:"survey_id"`
	EnumeratorID string           `bson:"enumerator_id,omitempty" json:"enumerator_id,omitempty"`
	AssignedBy   string           `bson:"assigned_by" json:"assigned_by"`
	SurveyData   map[string]any   `bson:"survey_data,omitempty" json:"survey_data,omitempty"`
	RegionCode   string           `bson:"region_code" json:"region_code"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at" json:"updated_at"`
}

// LocationPing maps to the locations collection. Pings are immutable.
type LocationPing struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string        `bson:"user_id" json:"user_id"`
	Latitude  float64       `bson:"latitude" json:"latitude"`
	Longitude float64       `bson:"longitude" json:"longitude"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
	IsSynced  bool          `bson:"is_synced" json:"is_synced"`
}

// Message maps to the messages collection.
type Message struct {
	ID              bson.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID        string        `bson:"sender_id" json:"sender_id"`
	ReceiverID      string        `bson:"receiver_id,omitempty" json:"receiver_id,omitempty"`
	MessageType     MessageType   `bson:"message_type" json:"message_type"`
	Content         string        `bson:"content" json:"content"`
	Response        string        `bson:"response,omitempty" json:"response,omitempty"`
	Timestamp       time.Time     `bson:"timestamp" json:"timestamp"`
	IsSynced        bool          `bson:"is_synced" json:"is_synced"`
	Answered        bool          `bson:"answered" json:"answered"`
	AnsweredBy      string        `bson:"answered_by,omitempty" json:"answered_by,omitempty"`
	AnsweredAt      *time.Time    `bson:"answered_at,omitempty" json:"answered_at,omitempty"`
	IsDeleted       bool          `bson:"is_deleted" json:"is_deleted"`
	DeletedAt       *time.Time    `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	IsEdited        bool          `bson:"is_edited" json:"is_edited"`
	EditedAt        *time.Time    `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	OriginalContent string        `bson:"original_content,omitempty" json:"original_content,omitempty"`
	ReadBy          []string      `bson:"read_by" json:"read_by"`
	ConversationID  string        `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	TargetRoles     []Role        `bson:"target_roles,omitempty" json:"target_roles,omitempty"`
	TargetSurveyID  string        `bson:"target_survey_id,omitempty" json:"target_survey_id,omitempty"`
	TargetUserIDs   []string      `bson:"target_user_ids,omitempty" json:"target_user_ids,omitempty"`
}

// MessageView is a message enriched with sender/receiver identities.
type MessageView struct {
	Message  `bson:",inline"`
	Sender   *UserSummary `bson:"-" json:"sender,omitempty"`
	Receiver *UserSummary `bson:"-" json:"receiver,omitempty"`
}

// Conversation is the two-party thread between an enumerator and a
// supervisor. PairKey is the sorted participant ids joined by ":" and is
// unique, so one conversation exists per pair.
type Conversation struct {
	ID           bson.ObjectID    `bson:"_id,omitempty" json:"id"`
	PairKey      string           `bson:"pair_key" json:"-"`
	Participants []string         `bson:"participants" json:"participants"`
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at" json:"updated_at"`
	LastMessage  string           `bson:"last_message,omitempty" json:"last_message,omitempty"`
	UnreadCount  map[string]int64 `bson:"unread_count" json:"unread_count"`
}

// FAQItem maps to the faqs collection.
type FAQItem struct {
	ID        bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Question  string        `bson:"question" json:"question"`
	Answer    string        `bson:"answer" json:"answer"`
	Category  string        `bson:"category" json:"category"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
}

// StatusCounts holds respondent totals per status.
type StatusCounts struct {
	Total      int64 `json:"total_respondents"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
}

// DailyCount is one bucket of the chat-stats timeline.
type DailyCount struct {
	Date  string `bson:"_id" json:"date"`
	Count int64  `bson:"count" json:"count"`
}

// Page bounds a paginated listing.
type Page struct {
	Limit  int64
	Offset int64
}
