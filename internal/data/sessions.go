package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Revocation reasons recorded on sessions.
const (
	RevokeSuperseded  = "superseded"
	RevokeLogout      = "logout"
	RevokeUserDeleted = "user_deleted"
)

// SessionsStore persists issued login sessions.
type SessionsStore struct {
	coll *mongo.Collection // "sessions"
}

// NewSessionsStore returns a SessionsStore using the provided collection.
func NewSessionsStore(coll *mongo.Collection) *SessionsStore {
	return &SessionsStore{coll: coll}
}

// Create inserts a session.
func (s *SessionsStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.coll.InsertOne(ctx, sess)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// Get loads a session by id.
func (s *SessionsStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&sess); err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// RevokeOthers revokes every live session of userID except keepID and
// returns how many were revoked.
func (s *SessionsStore) RevokeOthers(ctx context.Context, userID, keepID, reason string, at time.Time) (int64, error) {
	filter := bson.M{
		"user_id":    userID,
		"_id":        bson.M{"$ne": keepID},
		"revoked_at": bson.M{"$exists": false},
	}
	res, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"revoked_at": at, "revoke_reason": reason}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Revoke revokes a single session. Revoking an already revoked session is
// a no-op.
func (s *SessionsStore) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "revoked_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revoked_at": at, "revoke_reason": reason}})
	return err
}
