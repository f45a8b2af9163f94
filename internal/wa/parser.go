package wa

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized inbound message ready for ingestion.
// Text is empty when the payload carried no extractable text; such messages
// still update chat summaries but never enter history or correlation.
type ParsedMessage struct {
	ChatAddress   string
	ID            string
	SenderAddress string
	SenderName    string
	Text          string
	FromSelf      bool
	TimestampMs   int64
}

// HasText reports whether the payload yielded extractable text.
func (p *ParsedMessage) HasText() bool {
	return p.Text != ""
}

// ParseMessage normalizes a live whatsmeow message event.
func ParseMessage(evt *events.Message) *ParsedMessage {
	text, _ := extractText(evt.Message)

	return &ParsedMessage{
		ChatAddress:   evt.Info.Chat.String(),
		ID:            evt.Info.ID,
		SenderAddress: evt.Info.Sender.String(),
		SenderName:    evt.Info.PushName,
		Text:          text,
		FromSelf:      evt.Info.IsFromMe,
		TimestampMs:   evt.Info.Timestamp.UnixMilli(),
	}
}

// extractText resolves the variant payload shapes to an optional text body:
// plain conversation, extended/quoted text, and media caption variants.
func extractText(msg *waE2E.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	if c := msg.GetConversation(); c != "" {
		return c, true
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText(), true
	}
	if img := msg.GetImageMessage(); img != nil && img.GetCaption() != "" {
		return img.GetCaption(), true
	}
	if vid := msg.GetVideoMessage(); vid != nil && vid.GetCaption() != "" {
		return vid.GetCaption(), true
	}
	if doc := msg.GetDocumentMessage(); doc != nil && doc.GetCaption() != "" {
		return doc.GetCaption(), true
	}
	return "", false
}
