package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"telechat/module/identity"
	"telechat/service/mgo"
	"telechat/tools/errs"
)

const MessageTableName = "chat_messages"

// Attachment is metadata only; the file itself lives in the external blob
// store.
type Attachment struct {
	Filename string `bson:"filename" json:"filename"`
	FileType string `bson:"file_type" json:"fileType"`
	FileSize int64  `bson:"file_size" json:"fileSize"`
	Path     string `bson:"path" json:"path"`
}

// Sender snapshots the display name at send time so history reads do not
// depend on the profile stores.
type Sender struct {
	ID          string         `bson:"id" json:"id"`
	Class       identity.Class `bson:"class" json:"class"`
	DisplayName string         `bson:"display_name" json:"displayName"`
}

type ReadReceipt struct {
	IdentityID string         `bson:"identity_id" json:"identityId"`
	Class      identity.Class `bson:"class" json:"class"`
	ReadAt     time.Time      `bson:"read_at" json:"readAt"`
}

// Message is append-only: no edits, no retraction. read_by contains the
// sender from the moment of creation.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversationId"`
	Sender         Sender             `bson:"sender" json:"sender"`
	Content        string             `bson:"content" json:"content"`
	Attachments    []Attachment       `bson:"attachments" json:"attachments"`
	ReadBy         []ReadReceipt      `bson:"read_by" json:"readBy"`
	CreatedAt      time.Time          `bson:"created_at" json:"createdAt"`
}

func (*Message) GetTableName() string { return MessageTableName }

func (m *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// Append inserts a message into conversationID, seeding read_by with just
// the sender. created_at is server-assigned and is the authoritative order
// for history reads.
func (m *Message) Append(ctx context.Context, conversationID primitive.ObjectID, sender Sender, content string, attachments []Attachment) (*Message, error) {
	if content == "" {
		return nil, errs.ErrValidation.WithDetail("message content is required")
	}
	if attachments == nil {
		attachments = []Attachment{}
	}
	now := time.Now()
	msg := &Message{
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Attachments:    attachments,
		ReadBy: []ReadReceipt{{
			IdentityID: sender.ID,
			Class:      sender.Class,
			ReadAt:     now,
		}},
		CreatedAt: now,
	}
	res, err := m.Collection().InsertOne(ctx, msg)
	if err != nil {
		return nil, errs.Wrap(err, "insert message")
	}
	msg.ID = res.InsertedID.(primitive.ObjectID)
	return msg, nil
}

// ListPage pages messages ascending by created_at; concatenating pages yields
// a non-decreasing created_at sequence.
func (m *Message) ListPage(ctx context.Context, conversationID primitive.ObjectID, page, limit int64) ([]Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	filter := bson.M{"conversation_id": conversationID}
	total, err := m.Collection().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errs.Wrap(err, "count messages")
	}
	cur, err := m.Collection().Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip((page-1)*limit).
		SetLimit(limit))
	if err != nil {
		return nil, 0, errs.Wrap(err, "list messages")
	}
	defer cur.Close(ctx)

	var out []Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, errs.Wrap(err, "decode messages")
	}
	return out, total, nil
}

// MarkAllRead adds a read receipt for reader to every message in the
// conversation it did not author and has not read. $addToSet plus the $ne
// filter keeps the operation idempotent: at most one receipt per identity.
func (m *Message) MarkAllRead(ctx context.Context, conversationID primitive.ObjectID, reader identity.Ref) (int64, error) {
	res, err := m.Collection().UpdateMany(ctx,
		bson.M{
			"conversation_id":     conversationID,
			"sender.id":           bson.M{"$ne": reader.ID},
			"read_by.identity_id": bson.M{"$ne": reader.ID},
		},
		bson.M{"$addToSet": bson.M{"read_by": ReadReceipt{
			IdentityID: reader.ID,
			Class:      reader.Class,
			ReadAt:     time.Now(),
		}}},
	)
	if err != nil {
		return 0, errs.Wrap(err, "mark messages read")
	}
	return res.ModifiedCount, nil
}

// UnreadCount counts messages in the conversation not authored by identityID
// and not yet carrying its read receipt. Computed per request, never cached
// on the conversation document.
func (m *Message) UnreadCount(ctx context.Context, conversationID primitive.ObjectID, identityID string) (int64, error) {
	n, err := m.Collection().CountDocuments(ctx, bson.M{
		"conversation_id":     conversationID,
		"sender.id":           bson.M{"$ne": identityID},
		"read_by.identity_id": bson.M{"$ne": identityID},
	})
	if err != nil {
		return 0, errs.Wrap(err, "count unread")
	}
	return n, nil
}

func (m *Message) EnsureIndexes(ctx context.Context) error {
	_, err := m.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "sender.id", Value: 1}}},
		{Keys: bson.D{{Key: "read_by.identity_id", Value: 1}}},
	})
	return errs.Wrap(err, "ensure message indexes")
}
