package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// RespondentsStore performs respondent DB operations.
type RespondentsStore struct {
	coll *mongo.Collection // "respondents"
}

// NewRespondentsStore returns a RespondentsStore using the provided collection.
func NewRespondentsStore(coll *mongo.Collection) *RespondentsStore {
	return &RespondentsStore{coll: coll}
}

// Create inserts a respondent.
func (r *RespondentsStore) Create(ctx context.Context, resp *Respondent) (*Respondent, error) {
	result, err := r.coll.InsertOne(ctx, resp)
	if err != nil {
		return nil, err
	}
	resp.ID = result.InsertedID.(bson.ObjectID)
	return resp, nil
}

// FindOne returns the first respondent matching filter.
func (r *RespondentsStore) FindOne(ctx context.Context, filter bson.M) (*Respondent, error) {
	var resp Respondent
	if err := r.coll.FindOne(ctx, filter).Decode(&resp); err != nil {
		return nil, notFound(err)
	}
	return &resp, nil
}

// List returns respondents matching filter, most recently updated first.
// A zero limit means no limit.
func (r *RespondentsStore) List(ctx context.Context, filter bson.M, limit int64) ([]Respondent, error) {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []Respondent{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies set to the respondent matching filter and returns the
// stored result. updated_at is stamped unless set carries it.
func (r *RespondentsStore) Update(ctx context.Context, filter, set bson.M) (*Respondent, error) {
	if _, ok := set["updated_at"]; !ok {
		set["updated_at"] = time.Now().UTC()
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var resp Respondent
	if err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&resp); err != nil {
		return nil, notFound(err)
	}
	return &resp, nil
}

// CountByStatus groups the respondents matching filter by status.
func (r *RespondentsStore) CountByStatus(ctx context.Context, filter bson.M) (StatusCounts, error) {
	if filter == nil {
		filter = bson.M{}
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: filter}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return StatusCounts{}, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status RespondentStatus `bson:"_id"`
		Count  int64            `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return StatusCounts{}, err
	}

	var c StatusCounts
	for _, row := range rows {
		c.Total += row.Count
		switch row.Status {
		case StatusPending:
			c.Pending = row.Count
		case StatusInProgress:
			c.InProgress = row.Count
		case StatusCompleted:
			c.Completed = row.Count
		}
	}
	return c, nil
}
