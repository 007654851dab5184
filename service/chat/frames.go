package chat

import (
	"encoding/json"
	"time"

	"telechat/module/identity"
	"telechat/tools/decode"
	"telechat/tools/errs"
)

// Frame types on the live channel. One JSON object per message, "type"
// discriminates. Unknown types are logged and ignored, never fatal.
const (
	FrameConnection   = "connection"
	FrameChat         = "chat"
	FrameTyping       = "typing"
	FrameRead         = "read"
	FrameAck          = "ack"
	FrameError        = "error"
	FrameNotification = "notification"
)

// ParseFrame splits a raw inbound frame into its type tag and the untyped
// payload; handlers decode the payload into their own shape.
func ParseFrame(raw []byte) (string, map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", nil, errs.Wrap(err, "unmarshal frame")
	}
	t, _ := m["type"].(string)
	if t == "" {
		return "", nil, errs.New("frame missing type")
	}
	return t, m, nil
}

// ---- inbound payloads ----

type ChatInbound struct {
	ConversationID string   `json:"conversationId"`
	Recipients     []string `json:"recipients"`
	Content        string   `json:"content"`
	MessageID      string   `json:"messageId"`
}

func (p *ChatInbound) Validate() error {
	if p.ConversationID == "" || len(p.Recipients) == 0 || p.Content == "" || p.MessageID == "" {
		return errs.ErrValidation.WithDetail("missing required fields for chat message")
	}
	return nil
}

type TypingInbound struct {
	ConversationID string   `json:"conversationId"`
	Recipients     []string `json:"recipients"`
	IsTyping       bool     `json:"isTyping"`
}

func (p *TypingInbound) Validate() error {
	if p.ConversationID == "" || len(p.Recipients) == 0 {
		return errs.ErrValidation.WithDetail("missing required fields for typing indicator")
	}
	return nil
}

type ReadInbound struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
}

func (p *ReadInbound) Validate() error {
	if p.ConversationID == "" || p.MessageID == "" || p.SenderID == "" {
		return errs.ErrValidation.WithDetail("missing required fields for read receipt")
	}
	return nil
}

func decodePayload[T any](m map[string]any) (*T, error) {
	return decode.Map[T](m)
}

// ---- outbound frames ----

type WelcomeFrame struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	IdentityID string `json:"identityId"`
	Class      string `json:"class"`
}

func BuildWelcome(id string, class identity.Class) *WelcomeFrame {
	return &WelcomeFrame{
		Type:       FrameConnection,
		Message:    "connected to chat server",
		IdentityID: id,
		Class:      string(class),
	}
}

type ChatDeliverFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderClass    string `json:"senderClass"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

func BuildChatDeliver(p *ChatInbound, sender *Conn) *ChatDeliverFrame {
	return &ChatDeliverFrame{
		Type:           FrameChat,
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		SenderID:       sender.IdentityID,
		SenderClass:    string(sender.Class),
		SenderName:     sender.DisplayName,
		Content:        p.Content,
		Timestamp:      nowStamp(),
	}
}

type AckFrame struct {
	Type              string `json:"type"`
	MessageID         string `json:"messageId"`
	ConversationID    string `json:"conversationId"`
	Status            string `json:"status"`
	DeliveredToOnline bool   `json:"deliveredToOnline"`
	Timestamp         string `json:"timestamp"`
}

func BuildAck(messageID, conversationID string, deliveredToOnline bool) *AckFrame {
	return &AckFrame{
		Type:              FrameAck,
		MessageID:         messageID,
		ConversationID:    conversationID,
		Status:            "delivered",
		DeliveredToOnline: deliveredToOnline,
		Timestamp:         nowStamp(),
	}
}

type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      string `json:"timestamp"`
}

func BuildTyping(p *TypingInbound, sender *Conn) *TypingFrame {
	return &TypingFrame{
		Type:           FrameTyping,
		ConversationID: p.ConversationID,
		SenderID:       sender.IdentityID,
		SenderName:     sender.DisplayName,
		IsTyping:       p.IsTyping,
		Timestamp:      nowStamp(),
	}
}

type ReadFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReadBy         string `json:"readBy"`
	ReadByName     string `json:"readByName"`
	Timestamp      string `json:"timestamp"`
}

func BuildRead(p *ReadInbound, reader *Conn) *ReadFrame {
	return &ReadFrame{
		Type:           FrameRead,
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		ReadBy:         reader.IdentityID,
		ReadByName:     reader.DisplayName,
		Timestamp:      nowStamp(),
	}
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func BuildError(msg string) *ErrorFrame {
	return &ErrorFrame{Type: FrameError, Message: msg}
}

type NotificationFrame struct {
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func BuildNotification(event string, data map[string]any) *NotificationFrame {
	return &NotificationFrame{
		Type:      FrameNotification,
		Event:     event,
		Data:      data,
		Timestamp: nowStamp(),
	}
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
