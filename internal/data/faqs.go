package data

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultFAQCategory is used when an FAQ is created without a category.
const DefaultFAQCategory = "general"

// FAQsStore reads and writes FAQ entries.
type FAQsStore struct {
	coll *mongo.Collection // "faqs"
}

// NewFAQsStore returns a FAQsStore using the provided collection.
func NewFAQsStore(coll *mongo.Collection) *FAQsStore {
	return &FAQsStore{coll: coll}
}

// Create inserts an FAQ entry.
func (f *FAQsStore) Create(ctx context.Context, item *FAQItem) (*FAQItem, error) {
	if item.Category == "" {
		item.Category = DefaultFAQCategory
	}
	result, err := f.coll.InsertOne(ctx, item)
	if err != nil {
		return nil, err
	}
	item.ID = result.InsertedID.(bson.ObjectID)
	return item, nil
}

// List returns every FAQ grouped by category.
func (f *FAQsStore) List(ctx context.Context) ([]FAQItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: 1}})
	cursor, err := f.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []FAQItem{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
