package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telechat/module/identity"
	"telechat/service/mgo"
	"telechat/tools/errs"
)

const ConversationTableName = "conversations"

// LastMessage is the denormalized preview kept on the conversation so the
// list endpoint never joins into the message collection.
type LastMessage struct {
	Content     string         `bson:"content" json:"content"`
	SenderID    string         `bson:"sender_id" json:"senderId"`
	SenderName  string         `bson:"sender_name" json:"senderName"`
	SenderClass identity.Class `bson:"sender_class" json:"senderClass"`
	Timestamp   time.Time      `bson:"timestamp" json:"timestamp"`
}

// Conversation is the durable record of who may exchange messages. The
// participant set is fixed at creation; is_active=false is an archive, the
// document is never deleted.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Participants   []identity.Ref     `bson:"participants" json:"participants"`
	ParticipantKey string             `bson:"participant_key" json:"-"`
	Title          string             `bson:"title" json:"title"`
	LastMessage    *LastMessage       `bson:"last_message,omitempty" json:"lastMessage"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updatedAt"`
	IsActive       bool               `bson:"is_active" json:"isActive"`
}

func (*Conversation) GetTableName() string { return ConversationTableName }

func (c *Conversation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.GetTableName())
}

func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// OtherParticipants returns the participant refs excluding id.
func (c *Conversation) OtherParticipants(id string) []identity.Ref {
	out := make([]identity.Ref, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// participantKey derives the dedup key for an unordered participant set:
// sorted ids joined with '|'. Strict set equality, not subset; adding a
// participant means a new key and so a new conversation. A unique partial
// index on active conversations makes concurrent find-or-create safe.
func participantKey(participants []identity.Ref) string {
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// FindOrCreate returns the existing active conversation for exactly this
// participant set, or inserts a new one. Two concurrent creates for the same
// set race on the unique participant_key index; the loser re-reads the
// winner's document.
func (c *Conversation) FindOrCreate(ctx context.Context, participants []identity.Ref, title string) (*Conversation, bool, error) {
	if len(participants) == 0 {
		return nil, false, errs.ErrValidation.WithDetail("participants must be non-empty")
	}
	for _, p := range participants {
		if p.ID == "" || !p.Class.Valid() {
			return nil, false, errs.ErrValidation.WithDetail("participant needs id and class")
		}
	}

	filter := bson.M{"is_active": true, "participant_key": participantKey(participants)}
	var existing Conversation
	err := c.Collection().FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return &existing, false, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, errs.Wrap(err, "find conversation")
	}

	now := time.Now()
	conv := &Conversation{
		Participants:   participants,
		ParticipantKey: participantKey(participants),
		Title:          title,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsActive:       true,
	}
	res, err := c.Collection().InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			var won Conversation
			if ferr := c.Collection().FindOne(ctx, filter).Decode(&won); ferr == nil {
				return &won, false, nil
			}
		}
		return nil, false, errs.Wrap(err, "insert conversation")
	}
	conv.ID = res.InsertedID.(primitive.ObjectID)
	return conv, true, nil
}

// FindForParticipant loads conversation id iff identityID participates and it
// is active. Callers treat a miss as NotFound whether the conversation is
// absent or the requester is a stranger to it.
func (c *Conversation) FindForParticipant(ctx context.Context, id primitive.ObjectID, identityID string) (*Conversation, error) {
	var conv Conversation
	err := c.Collection().FindOne(ctx, bson.M{
		"_id":                      id,
		"is_active":                true,
		"participants.identity_id": identityID,
	}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errs.ErrNotFound.WithDetail("conversation not found or not a participant")
		}
		return nil, errs.Wrap(err, "find conversation")
	}
	return &conv, nil
}

// ListForIdentity pages the active conversations identityID participates in,
// most recently updated first.
func (c *Conversation) ListForIdentity(ctx context.Context, identityID string, page, limit int64) ([]Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	filter := bson.M{
		"participants.identity_id": identityID,
		"is_active":                true,
	}
	total, err := c.Collection().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errs.Wrap(err, "count conversations")
	}
	cur, err := c.Collection().Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip((page-1)*limit).
		SetLimit(limit))
	if err != nil {
		return nil, 0, errs.Wrap(err, "list conversations")
	}
	defer cur.Close(ctx)

	var out []Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, errs.Wrap(err, "decode conversations")
	}
	return out, total, nil
}

// TouchLastMessage refreshes the preview and bumps updated_at.
func (c *Conversation) TouchLastMessage(ctx context.Context, id primitive.ObjectID, lm *LastMessage) error {
	_, err := c.Collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_message": lm, "updated_at": lm.Timestamp}},
	)
	return errs.Wrap(err, "touch last message")
}

// Archive soft-deletes. Flipping an already-archived conversation is a no-op.
func (c *Conversation) Archive(ctx context.Context, id primitive.ObjectID) error {
	_, err := c.Collection().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_active": false}},
	)
	return errs.Wrap(err, "archive conversation")
}

// EnsureIndexes mirrors the store's query paths: participant membership,
// recency sort, and the unique dedup key. The key index is partial so an
// archived conversation releases its key for a fresh one.
func (c *Conversation) EnsureIndexes(ctx context.Context) error {
	_, err := c.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.identity_id", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{
			Keys: bson.D{{Key: "participant_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}),
		},
	})
	return errs.Wrap(err, "ensure conversation indexes")
}
