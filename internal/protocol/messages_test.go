package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/whisper/randomchat/internal/models"
)

// ---------------------------------------------------------------------------
// Test: Parsing client messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_RequestMatch(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"random.requestMatch"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeRequestMatch {
		t.Fatalf("expected type %q, got %q", TypeRequestMatch, msgType)
	}
	if _, ok := msg.(RequestMatchMsg); !ok {
		t.Fatalf("expected RequestMatchMsg, got %T", msg)
	}
}

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"random.message","text":"Hello!","publicId":"media/abc","mediaUrl":"https://cdn/x.png"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
	if cm.PublicID != "media/abc" {
		t.Errorf("expected publicId %q, got %q", "media/abc", cm.PublicID)
	}
}

func TestParseClientMessage_FriendResolveWithPartner(t *testing.T) {
	for _, typ := range []string{TypeFriendAccept, TypeFriendReject, TypeFriendCancel} {
		input := []byte(`{"type":"` + typ + `","partnerSocketId":"conn-42"}`)

		msgType, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if msgType != typ {
			t.Fatalf("expected type %q, got %q", typ, msgType)
		}
		rm, ok := msg.(FriendResolveMsg)
		if !ok {
			t.Fatalf("%s: expected FriendResolveMsg, got %T", typ, msg)
		}
		if rm.PartnerSocketID != "conn-42" {
			t.Errorf("%s: expected partnerSocketId %q, got %q", typ, "conn-42", rm.PartnerSocketID)
		}
	}
}

func TestParseClientMessage_FriendResolveWithoutPartner(t *testing.T) {
	_, msg, err := ParseClientMessage([]byte(`{"type":"privateChat.reject"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rm := msg.(FriendResolveMsg); rm.PartnerSocketID != "" {
		t.Errorf("expected empty partnerSocketId, got %q", rm.PartnerSocketID)
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msgType, msg, err := ParseClientMessage([]byte(`{"type":"random.matched"}`))
	if err == nil {
		t.Fatal("expected error for server-only type, got nil")
	}
	if msgType != "random.matched" {
		t.Errorf("expected type to be returned even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg, got %v", msg)
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	_, _, err := ParseClientMessage([]byte(`{"type":"random.report","reason":42}`))
	if err == nil {
		t.Fatal("expected decode error for numeric reason")
	}
}

func TestEnvelope_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"text":"no type"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: Building server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_Matched(t *testing.T) {
	data, err := NewServerMessage(TypeMatched, MatchedMsg{
		PartnerID: "conn-b",
		PartnerProfile: models.PublicProfile{
			Name:     "Bea",
			Location: "Porto, PT",
			Avatar:   "https://cdn/bea.png",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got struct {
		Type           string               `json:"type"`
		PartnerID      string               `json:"partnerId"`
		PartnerProfile models.PublicProfile `json:"partnerProfile"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if got.Type != TypeMatched {
		t.Errorf("expected type %q, got %q", TypeMatched, got.Type)
	}
	if got.PartnerID != "conn-b" {
		t.Errorf("expected partnerId %q, got %q", "conn-b", got.PartnerID)
	}
	if got.PartnerProfile.Name != "Bea" || got.PartnerProfile.Location != "Porto, PT" {
		t.Errorf("unexpected profile: %+v", got.PartnerProfile)
	}
}

func TestNewServerMessage_EmptyPayload(t *testing.T) {
	data, err := NewServerMessage(TypeWaiting, WaitingMsg{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"type":"random.waiting"}` {
		t.Errorf("unexpected bytes: %s", data)
	}

	data, err = NewServerMessage(TypePartnerDisconnected, nil)
	if err != nil {
		t.Fatalf("unexpected error for nil payload: %v", err)
	}
	if string(data) != `{"type":"random.partnerDisconnected"}` {
		t.Errorf("unexpected bytes: %s", data)
	}
}

func TestNewServerMessage_FriendRequestRecord(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewFriendRequestRecord(models.FriendRequest{
		ID:        "req-1",
		From:      "alice",
		To:        "bob",
		Status:    models.FriendRequestPending,
		CreatedAt: created,
	})

	data, err := NewServerMessage(TypeFriendRequestReceived, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	for key, want := range map[string]string{
		"type":      TypeFriendRequestReceived,
		"requestId": "req-1",
		"from":      "alice",
		"status":    "pending",
		"createdAt": "2026-03-01T12:00:00Z",
	} {
		if m[key] != want {
			t.Errorf("%s: expected %q, got %v", key, want, m[key])
		}
	}
}

func TestNewServerMessage_TypeOverridesPayload(t *testing.T) {
	data, err := NewServerMessage(TypeRandomError, ErrorTextMsg{Type: "bogus", Message: "No active match found"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m ErrorTextMsg
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if m.Type != TypeRandomError {
		t.Errorf("expected type %q, got %q", TypeRandomError, m.Type)
	}
	if m.Message != "No active match found" {
		t.Errorf("unexpected message %q", m.Message)
	}
}

func TestParseClientMessage_AllTypes(t *testing.T) {
	types := []string{
		TypeRequestMatch, TypeNext, TypeEnd, TypeMessage, TypeReport,
		TypeFriendRequest, TypeFriendAccept, TypeFriendReject, TypeFriendCancel, TypePing,
	}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(`{"type":"` + typ + `"}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != typ {
				t.Errorf("expected %q, got %q", typ, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
