// Package data provides document models and per-collection stores.
package data

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/fieldsync/internal/normalize"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	coll *mongo.Collection // "users"
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// Create inserts a user whose password is already hashed. The email is
// normalized before insert; a taken email yields ErrDuplicate.
func (u *UsersStore) Create(ctx context.Context, user *User) (*User, error) {
	user.Email = normalize.Email(user.Email)
	if user.AssignedSurveys == nil {
		user.AssignedSurveys = []string{}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// unique email index violation
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetByEmail finds a user by (normalized) email.
func (u *UsersStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetByID finds a user by hex id.
func (u *UsersStore) GetByID(ctx context.Context, id string) (*User, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var user User
	if err := u.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// List returns the users matching filter ordered by creation time.
func (u *UsersStore) List(ctx context.Context, filter bson.M) ([]User, error) {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := []User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// IDs returns the hex ids of the users matching filter.
func (u *UsersStore) IDs(ctx context.Context, filter bson.M) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID.Hex())
	}
	return ids, cursor.Err()
}

// SubordinateIDs returns the ids of the enumerators supervised by supervisorID.
func (u *UsersStore) SubordinateIDs(ctx context.Context, supervisorID string) ([]string, error) {
	return u.IDs(ctx, bson.M{"supervisor_id": supervisorID})
}

// Count counts users matching filter.
func (u *UsersStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	return u.coll.CountDocuments(ctx, filter)
}

// Update applies set to the user and returns the stored result. A set that
// changes email to one already taken yields ErrDuplicate.
func (u *UsersStore) Update(ctx context.Context, id string, set bson.M) (*User, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if email, ok := set["email"].(string); ok {
		set["email"] = normalize.Email(email)
	}
	set["updated_at"] = time.Now().UTC()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user User
	err = u.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, notFound(err)
	}
	return &user, nil
}

// Delete removes a user.
func (u *UsersStore) Delete(ctx context.Context, id string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	res, err := u.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLogin stamps a successful login: the new current session, the
// login time and, when supplied, the device snapshot.
func (u *UsersStore) RecordLogin(ctx context.Context, id, sessionID string, at time.Time, device *DeviceInfo) error {
	set := bson.M{"current_session_id": sessionID, "last_login_at": at}
	if device != nil {
		set["last_device_info"] = device
	}
	return u.setByID(ctx, id, set)
}

// SyncDevice stores the device snapshot and the activity time.
func (u *UsersStore) SyncDevice(ctx context.Context, id string, device DeviceInfo, at time.Time) error {
	return u.setByID(ctx, id, bson.M{"last_device_info": device, "last_active_at": at})
}

// ClearSession drops the user's current session pointer (logout).
func (u *UsersStore) ClearSession(ctx context.Context, id, sessionID string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	_, err = u.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "current_session_id": sessionID},
		bson.M{"$unset": bson.M{"current_session_id": ""}})
	return err
}

// Summaries loads the public identity of every listed user, keyed by id.
// Unknown ids are absent from the map.
func (u *UsersStore) Summaries(ctx context.Context, ids []string) (map[string]UserSummary, error) {
	out := make(map[string]UserSummary, len(ids))
	oids := ObjectIDs(ids)
	if len(oids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"username": 1, "email": 1, "role": 1})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID.Hex()] = users[i].Summary()
	}
	return out, nil
}

func (u *UsersStore) setByID(ctx context.Context, id string, set bson.M) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	res, err := u.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
