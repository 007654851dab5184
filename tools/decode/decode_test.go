package decode

import (
	"encoding/json"
	"testing"
)

type samplePayload struct {
	ConversationID string   `json:"conversationId"`
	Recipients     []string `json:"recipients"`
	Count          int      `json:"count"`
	IsTyping       bool     `json:"isTyping"`
}

func TestMapDecodesJSONShapedInput(t *testing.T) {
	// shape the input exactly as encoding/json produces it
	var m map[string]any
	raw := `{"conversationId":"c1","recipients":["a","b"],"count":3,"isTyping":true}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, err := Map[samplePayload](m)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ConversationID != "c1" || !p.IsTyping {
		t.Fatalf("fields lost: %+v", p)
	}
	if len(p.Recipients) != 2 || p.Recipients[1] != "b" {
		t.Fatalf("recipients = %v", p.Recipients)
	}
	// json numbers arrive as float64 and must land in the int field
	if p.Count != 3 {
		t.Fatalf("count = %d", p.Count)
	}
}

func TestMapIgnoresUnknownKeys(t *testing.T) {
	p, err := Map[samplePayload](map[string]any{
		"conversationId": "c1",
		"type":           "chat",
		"somethingElse":  42,
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ConversationID != "c1" {
		t.Fatalf("got %+v", p)
	}
}

func TestMapNilPayload(t *testing.T) {
	if _, err := Map[samplePayload](nil); err == nil {
		t.Fatal("nil payload must error")
	}
}
