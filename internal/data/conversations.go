package data

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore tracks two-party threads and their unread counters.
type ConversationsStore struct {
	coll *mongo.Collection // "conversations"
}

// NewConversationsStore returns a ConversationsStore using the provided collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// PairKey returns the order-independent key of a participant pair.
func PairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return strings.Join(p, ":")
}

// Touch records a message from sender to receiver: the pair's conversation
// is created if missing, the receiver's unread counter is incremented and
// the last-message snapshot refreshed. Upserting on the unique pair key
// keeps a single conversation per pair under concurrent first messages.
func (c *ConversationsStore) Touch(ctx context.Context, senderID, receiverID, snapshot string, at time.Time) (*Conversation, error) {
	participants := []string{senderID, receiverID}
	sort.Strings(participants)

	update := bson.M{
		"$setOnInsert": bson.M{"participants": participants, "created_at": at},
		"$set":         bson.M{"updated_at": at, "last_message": snapshot},
		"$inc":         bson.M{"unread_count." + receiverID: 1},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var conv Conversation
	err := c.coll.FindOneAndUpdate(ctx, bson.M{"pair_key": PairKey(senderID, receiverID)}, update, opts).Decode(&conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ResetUnread sets userID's unread counter on the conversation to zero.
func (c *ConversationsStore) ResetUnread(ctx context.Context, conversationID, userID string) error {
	oid, err := ParseID(conversationID)
	if err != nil {
		return err
	}
	_, err = c.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"unread_count." + userID: 0}})
	return err
}

// ForUser lists the conversations userID takes part in, most recent first.
func (c *ConversationsStore) ForUser(ctx context.Context, userID string) ([]Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := c.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []Conversation{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
