package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SurveysStore performs survey DB operations.
type SurveysStore struct {
	coll *mongo.Collection // "surveys"
}

// NewSurveysStore returns a SurveysStore using the provided collection.
func NewSurveysStore(coll *mongo.Collection) *SurveysStore {
	return &SurveysStore{coll: coll}
}

// Create inserts a survey. Missing membership lists are stored empty so
// $addToSet always has an array to work on.
func (s *SurveysStore) Create(ctx context.Context, survey *Survey) (*Survey, error) {
	if survey.SupervisorIDs == nil {
		survey.SupervisorIDs = []string{}
	}
	if survey.EnumeratorIDs == nil {
		survey.EnumeratorIDs = []string{}
	}
	result, err := s.coll.InsertOne(ctx, survey)
	if err != nil {
		return nil, err
	}
	survey.ID = result.InsertedID.(bson.ObjectID)
	return survey, nil
}

// FindOne returns the first survey matching filter.
func (s *SurveysStore) FindOne(ctx context.Context, filter bson.M) (*Survey, error) {
	var survey Survey
	if err := s.coll.FindOne(ctx, filter).Decode(&survey); err != nil {
		return nil, notFound(err)
	}
	return &survey, nil
}

// List returns surveys matching filter, newest first.
func (s *SurveysStore) List(ctx context.Context, filter bson.M) ([]Survey, error) {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	surveys := []Survey{}
	if err := cursor.All(ctx, &surveys); err != nil {
		return nil, err
	}
	return surveys, nil
}

// Count counts surveys matching filter.
func (s *SurveysStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	return s.coll.CountDocuments(ctx, filter)
}

// Update applies set to the survey matching filter and returns the result.
func (s *SurveysStore) Update(ctx context.Context, filter, set bson.M) (*Survey, error) {
	set["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var survey Survey
	if err := s.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&survey); err != nil {
		return nil, notFound(err)
	}
	return &survey, nil
}

// AddMembers adds supervisor and enumerator ids to the survey without
// duplicating existing entries.
func (s *SurveysStore) AddMembers(ctx context.Context, id string, supervisorIDs, enumeratorIDs []string) error {
	oid, err := ParseID(id)
	if err != nil {
		return err
	}
	add := bson.M{}
	if len(supervisorIDs) > 0 {
		add["supervisor_ids"] = bson.M{"$each": supervisorIDs}
	}
	if len(enumeratorIDs) > 0 {
		add["enumerator_ids"] = bson.M{"$each": enumeratorIDs}
	}
	if len(add) == 0 {
		return nil
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$addToSet": add})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExpired marks active surveys whose end date passed before now
// as inactive and returns how many changed.
func (s *SurveysStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"is_active": true, "end_date": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{"is_active": false, "updated_at": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
