package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection // "messages"
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// NotDeleted is the filter clause hiding soft-deleted messages.
func NotDeleted() bson.M {
	return bson.M{"is_deleted": bson.M{"$ne": true}}
}

// Create inserts a message and returns it with its id.
func (m *MessagesStore) Create(ctx context.Context, msg *Message) (*Message, error) {
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// Get loads a message that has not been soft-deleted.
func (m *MessagesStore) Get(ctx context.Context, id string) (*Message, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	var msg Message
	filter := bson.M{"_id": oid, "is_deleted": bson.M{"$ne": true}}
	if err := m.coll.FindOne(ctx, filter).Decode(&msg); err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// List returns messages matching filter, newest first, plus the total
// number of matches ignoring the page.
func (m *MessagesStore) List(ctx context.Context, filter bson.M, page Page) ([]Message, int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if page.Limit > 0 {
		opts.SetLimit(page.Limit)
	}
	if page.Offset > 0 {
		opts.SetSkip(page.Offset)
	}
	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	out := []Message{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Latest returns the newest message matching filter.
func (m *MessagesStore) Latest(ctx context.Context, filter bson.M) (*Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var msg Message
	if err := m.coll.FindOne(ctx, filter, opts).Decode(&msg); err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// Count counts messages matching filter.
func (m *MessagesStore) Count(ctx context.Context, filter bson.M) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	return m.coll.CountDocuments(ctx, filter)
}

// Update applies set to a live message and returns the stored result.
func (m *MessagesStore) Update(ctx context.Context, id string, set bson.M) (*Message, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return m.findAndUpdate(ctx, bson.M{"_id": oid, "is_deleted": bson.M{"$ne": true}}, bson.M{"$set": set})
}

// Edit replaces the content of a live message. original_content is only
// written on the first edit so it always holds the text as first sent.
func (m *MessagesStore) Edit(ctx context.Context, id, content string, at time.Time) (*Message, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	// aggregation-pipeline update so original_content can read the current content
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "original_content", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$original_content", "$content"}}}},
		}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "content", Value: content},
			{Key: "is_edited", Value: true},
			{Key: "edited_at", Value: at},
		}}},
	}
	return m.findAndUpdate(ctx, bson.M{"_id": oid, "is_deleted": bson.M{"$ne": true}}, update)
}

// SoftDelete flags a live message as deleted.
func (m *MessagesStore) SoftDelete(ctx context.Context, id string, at time.Time) (*Message, error) {
	return m.Update(ctx, id, bson.M{"is_deleted": true, "deleted_at": at})
}

// MarkRead adds userID to read_by. Repeating it changes nothing.
func (m *MessagesStore) MarkRead(ctx context.Context, id, userID string) (*Message, error) {
	oid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return m.findAndUpdate(ctx, bson.M{"_id": oid, "is_deleted": bson.M{"$ne": true}},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
}

// CountByType returns the number of live messages per message type.
func (m *MessagesStore) CountByType(ctx context.Context) (map[MessageType]int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: NotDeleted()}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$message_type"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Type  MessageType `bson:"_id"`
		Count int64       `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := map[MessageType]int64{}
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}

// DailyCounts returns per-day message counts (UTC, YYYY-MM-DD) since the
// given time, oldest day first.
func (m *MessagesStore) DailyCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: since}}},
			{Key: "is_deleted", Value: bson.D{{Key: "$ne", Value: true}}},
		}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$timestamp"},
			}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []DailyCount{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MessagesStore) findAndUpdate(ctx context.Context, filter bson.M, update any) (*Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var msg Message
	if err := m.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&msg); err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}
