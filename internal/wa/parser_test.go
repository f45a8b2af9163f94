package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func testJID(user string) types.JID {
	return types.JID{User: user, Server: types.DefaultUserServer}
}

func liveMessage(msg *waE2E.Message, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     testJID("15551234567"),
				Sender:   testJID("15551234567"),
				IsFromMe: fromMe,
			},
			ID:        "MSG-1",
			PushName:  "Alice",
			Timestamp: time.UnixMilli(1700000000000),
		},
		Message: msg,
	}
}

func TestExtractTextVariants(t *testing.T) {
	tests := []struct {
		name     string
		msg      *waE2E.Message
		wantText string
		wantOK   bool
	}{
		{
			name:     "conversation",
			msg:      &waE2E.Message{Conversation: proto.String("hello")},
			wantText: "hello",
			wantOK:   true,
		},
		{
			name: "extended text",
			msg: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("quoted reply"),
			}},
			wantText: "quoted reply",
			wantOK:   true,
		},
		{
			name: "image caption",
			msg: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
				Caption: proto.String("look at this"),
			}},
			wantText: "look at this",
			wantOK:   true,
		},
		{
			name: "video caption",
			msg: &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
				Caption: proto.String("watch"),
			}},
			wantText: "watch",
			wantOK:   true,
		},
		{
			name: "document caption",
			msg: &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
				Caption: proto.String("the report"),
			}},
			wantText: "the report",
			wantOK:   true,
		},
		{
			name:   "captionless image",
			msg:    &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}},
			wantOK: false,
		},
		{
			name:   "sticker",
			msg:    &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}},
			wantOK: false,
		},
		{
			name:   "nil payload",
			msg:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := extractText(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("extractText ok = %v, want %v", ok, tt.wantOK)
			}
			if text != tt.wantText {
				t.Errorf("extractText = %q, want %q", text, tt.wantText)
			}
		})
	}
}

func TestParseMessageFields(t *testing.T) {
	evt := liveMessage(&waE2E.Message{Conversation: proto.String("hi")}, false)
	pm := ParseMessage(evt)

	if pm.ChatAddress != "15551234567@s.whatsapp.net" {
		t.Errorf("ChatAddress = %q", pm.ChatAddress)
	}
	if pm.ID != "MSG-1" {
		t.Errorf("ID = %q", pm.ID)
	}
	if pm.SenderName != "Alice" {
		t.Errorf("SenderName = %q", pm.SenderName)
	}
	if pm.Text != "hi" || !pm.HasText() {
		t.Errorf("Text = %q, HasText = %v", pm.Text, pm.HasText())
	}
	if pm.FromSelf {
		t.Error("FromSelf = true, want false")
	}
	if pm.TimestampMs != 1700000000000 {
		t.Errorf("TimestampMs = %d", pm.TimestampMs)
	}
}

func TestParseMessageSelf(t *testing.T) {
	evt := liveMessage(&waE2E.Message{Conversation: proto.String("me")}, true)
	pm := ParseMessage(evt)
	if !pm.FromSelf {
		t.Error("FromSelf = false, want true")
	}
}

func TestParseMessageTextless(t *testing.T) {
	evt := liveMessage(&waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, false)
	pm := ParseMessage(evt)
	if pm.HasText() {
		t.Errorf("HasText = true for audio message, Text = %q", pm.Text)
	}
	// The chat is still discoverable from the parsed message.
	if pm.ChatAddress == "" {
		t.Error("ChatAddress empty for textless message")
	}
}
