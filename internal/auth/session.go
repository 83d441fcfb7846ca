package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/data"
)

// ErrSessionSuperseded is returned for a token whose session was replaced
// by a newer login, revoked, or expired.
var ErrSessionSuperseded = errors.New("session superseded")

// SessionStore is the subset of data.SessionsStore used here.
type SessionStore interface {
	Create(ctx context.Context, sess *data.Session) error
	Get(ctx context.Context, id string) (*data.Session, error)
	RevokeOthers(ctx context.Context, userID, keepID, reason string, at time.Time) (int64, error)
	Revoke(ctx context.Context, id, reason string, at time.Time) error
}

// UserSource is the subset of data.UsersStore used here.
type UserSource interface {
	GetByID(ctx context.Context, id string) (*data.User, error)
	RecordLogin(ctx context.Context, id, sessionID string, at time.Time, device *data.DeviceInfo) error
	ClearSession(ctx context.Context, id, sessionID string) error
}

// SessionMeta describes the client opening a session.
type SessionMeta struct {
	Device     *data.DeviceInfo
	UserAgent  string
	RemoteAddr string
}

// IssuedToken is the result of a successful login or registration.
type IssuedToken struct {
	AccessToken string
	ExpiresAt   time.Time
	SessionID   string
}

// Sessions enforces the single-active-session rule: opening a session
// revokes every other live session of the same user, and a token is only
// accepted while its session is the user's current one.
type Sessions struct {
	jwt      *JWTManager
	sessions SessionStore
	users    UserSource
	now      func() time.Time
}

// NewSessions wires the token manager to the session and user stores.
func NewSessions(j *JWTManager, sessions SessionStore, users UserSource) *Sessions {
	return &Sessions{jwt: j, sessions: sessions, users: users, now: time.Now}
}

// Open starts a new session for user, supersedes older ones and returns a
// signed token for it.
func (s *Sessions) Open(ctx context.Context, user *data.User, meta SessionMeta) (*IssuedToken, error) {
	now := s.now().UTC()
	userID := user.ID.Hex()

	sess := &data.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.jwt.duration),
		UserAgent:  meta.UserAgent,
		RemoteAddr: meta.RemoteAddr,
	}
	if meta.Device != nil {
		sess.DeviceID = meta.Device.DeviceID
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	// point the user at the new session first; from here on older tokens fail
	if err := s.users.RecordLogin(ctx, userID, sess.ID, now, meta.Device); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	if n, err := s.sessions.RevokeOthers(ctx, userID, sess.ID, data.RevokeSuperseded, now); err != nil {
		// the user's current_session_id already rejects old tokens
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to revoke superseded sessions")
	} else if n > 0 {
		log.Info().Str("user_id", userID).Int64("revoked", n).Msg("superseded previous sessions")
	}

	token, expiresAt, err := s.jwt.GenerateToken(userID, sess.ID)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{AccessToken: token, ExpiresAt: expiresAt, SessionID: sess.ID}, nil
}

// Authenticate verifies a bearer token and returns the caller and claims.
// Unknown users yield ErrInvalidToken; stale sessions ErrSessionSuperseded.
func (s *Sessions) Authenticate(ctx context.Context, token string) (*data.User, *Claims, error) {
	claims, err := s.jwt.VerifyToken(token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}

	if claims.SessionID() == "" || claims.SessionID() != user.CurrentSessionID {
		return nil, nil, ErrSessionSuperseded
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID())
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, nil, ErrSessionSuperseded
		}
		return nil, nil, err
	}
	if sess.UserID != claims.UserID() {
		return nil, nil, ErrInvalidToken
	}
	if !sess.Active(s.now()) {
		return nil, nil, ErrSessionSuperseded
	}
	return user, claims, nil
}

// Close revokes the caller's session (logout).
func (s *Sessions) Close(ctx context.Context, claims *Claims) error {
	now := s.now().UTC()
	if err := s.sessions.Revoke(ctx, claims.SessionID(), data.RevokeLogout, now); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return s.users.ClearSession(ctx, claims.UserID(), claims.SessionID())
}

// RevokeUser revokes every live session of userID, e.g. when the account
// is deleted.
func (s *Sessions) RevokeUser(ctx context.Context, userID string) error {
	_, err := s.sessions.RevokeOthers(ctx, userID, "", data.RevokeUserDeleted, s.now().UTC())
	return err
}
