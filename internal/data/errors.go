package data

import (
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	// ErrNotFound is returned when no document matches, including when an
	// id is not a valid ObjectID hex string.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique index rejects a write.
	ErrDuplicate = errors.New("already exists")
)

// ParseID converts a hex id to an ObjectID. Malformed ids cannot match any
// document, so they report ErrNotFound.
func ParseID(hex string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, ErrNotFound
	}
	return oid, nil
}

// ByID builds an _id filter for a hex id.
func ByID(hex string) (bson.M, error) {
	oid, err := ParseID(hex)
	if err != nil {
		return nil, err
	}
	return bson.M{"_id": oid}, nil
}

// ObjectIDs converts hex ids, silently skipping malformed ones.
func ObjectIDs(hexes []string) []bson.ObjectID {
	out := make([]bson.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		if oid, err := bson.ObjectIDFromHex(h); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
