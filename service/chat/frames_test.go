package chat

import (
	"testing"

	"telechat/tools/errs"
)

func TestParseFrame(t *testing.T) {
	typ, m, err := ParseFrame([]byte(`{"type":"chat","content":"hi","recipients":["doc1"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if typ != FrameChat {
		t.Fatalf("type = %q, want %q", typ, FrameChat)
	}
	if m["content"] != "hi" {
		t.Fatalf("payload lost: %v", m)
	}
}

func TestParseFrameMissingType(t *testing.T) {
	if _, _, err := ParseFrame([]byte(`{"content":"hi"}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestParseFrameBadJSON(t *testing.T) {
	if _, _, err := ParseFrame([]byte(`{"type":`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestChatInboundDecodeAndValidate(t *testing.T) {
	// recipients arrive as []any after json decoding of the raw frame
	p, err := decodePayload[ChatInbound](map[string]any{
		"type":           "chat",
		"conversationId": "conv1",
		"recipients":     []any{"doc1", "op1"},
		"content":        "hello",
		"messageId":      "m1",
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(p.Recipients) != 2 || p.Recipients[0] != "doc1" {
		t.Fatalf("recipients = %v", p.Recipients)
	}
}

func TestChatInboundValidateMissingFields(t *testing.T) {
	cases := []map[string]any{
		{"recipients": []any{"doc1"}, "content": "x", "messageId": "m"},
		{"conversationId": "c", "content": "x", "messageId": "m"},
		{"conversationId": "c", "recipients": []any{"doc1"}, "messageId": "m"},
		{"conversationId": "c", "recipients": []any{"doc1"}, "content": "x"},
	}
	for i, m := range cases {
		p, err := decodePayload[ChatInbound](m)
		if err != nil {
			t.Fatalf("case %d decode: %v", i, err)
		}
		if err := p.Validate(); errs.Code(err) != errs.CodeValidation {
			t.Fatalf("case %d: want validation error, got %v", i, err)
		}
	}
}

func TestReadInboundValidate(t *testing.T) {
	p := &ReadInbound{ConversationID: "c", MessageID: "m", SenderID: "s"}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	p.SenderID = ""
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error without senderId")
	}
}

func TestTypingInboundValidate(t *testing.T) {
	p := &TypingInbound{ConversationID: "c", Recipients: []string{"doc1"}}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	p.Recipients = nil
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error without recipients")
	}
}
