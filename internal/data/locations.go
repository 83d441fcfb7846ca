package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// LocationsStore appends and queries GPS pings.
type LocationsStore struct {
	coll *mongo.Collection // "locations"
}

// NewLocationsStore returns a LocationsStore using the provided collection.
func NewLocationsStore(coll *mongo.Collection) *LocationsStore {
	return &LocationsStore{coll: coll}
}

// Insert stores one ping.
func (l *LocationsStore) Insert(ctx context.Context, ping *LocationPing) (*LocationPing, error) {
	result, err := l.coll.InsertOne(ctx, ping)
	if err != nil {
		return nil, err
	}
	ping.ID = result.InsertedID.(bson.ObjectID)
	return ping, nil
}

// InsertMany stores pings in one round trip and returns how many were written.
func (l *LocationsStore) InsertMany(ctx context.Context, pings []LocationPing) (int, error) {
	if len(pings) == 0 {
		return 0, nil
	}
	docs := make([]any, len(pings))
	for i := range pings {
		docs[i] = pings[i]
	}
	result, err := l.coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, err
	}
	return len(result.InsertedIDs), nil
}

// List returns pings matching filter, newest first. A zero limit means no limit.
func (l *LocationsStore) List(ctx context.Context, filter bson.M, limit int64) ([]LocationPing, error) {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := l.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []LocationPing{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the most recent ping of every user matching filter.
func (l *LocationsStore) Latest(ctx context.Context, filter bson.M) ([]LocationPing, error) {
	if filter == nil {
		filter = bson.M{}
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$user_id"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}}}},
	}

	cursor, err := l.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []LocationPing{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveUsers counts the distinct users matching filter with a ping at or
// after since.
func (l *LocationsStore) ActiveUsers(ctx context.Context, filter bson.M, since time.Time) (int64, error) {
	f := bson.M{"timestamp": bson.M{"$gte": since}}
	if len(filter) > 0 {
		f = bson.M{"$and": bson.A{filter, f}}
	}
	var ids []string
	if err := l.coll.Distinct(ctx, "user_id", f).Decode(&ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
