package mcpserver

import (
	"context"
	"time"

	"github.com/dtavares/wamcp/internal/api"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultChatLimit    = 20
	defaultMessageLimit = 10
)

type sendMessageInput struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

type sendMessageOutput struct {
	MessageID   string `json:"message_id"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func (s *Server) handleSendMessage(ctx context.Context, _ *mcp.CallToolRequest, in sendMessageInput) (*mcp.CallToolResult, sendMessageOutput, error) {
	res, err := s.svc.Send(ctx, in.Recipient, in.Text)
	if err != nil {
		return nil, sendMessageOutput{}, err
	}
	return nil, sendMessageOutput{
		MessageID:   res.MessageID,
		TimestampMs: res.TimestampMs,
	}, nil
}

type waitForReplyInput struct {
	ChatAddress    string `json:"chat_address,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type replyOutput struct {
	Text string `json:"text"`
}

func (s *Server) handleWaitForReply(ctx context.Context, _ *mcp.CallToolRequest, in waitForReplyInput) (*mcp.CallToolResult, replyOutput, error) {
	text, err := s.svc.WaitForReply(ctx, in.ChatAddress, s.timeout(in.TimeoutSeconds))
	if err != nil {
		return nil, replyOutput{}, err
	}
	return nil, replyOutput{Text: text}, nil
}

type sendAndWaitInput struct {
	Recipient      string `json:"recipient"`
	Text           string `json:"text"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleSendAndWait(ctx context.Context, _ *mcp.CallToolRequest, in sendAndWaitInput) (*mcp.CallToolResult, replyOutput, error) {
	text, err := s.svc.SendAndWait(ctx, in.Recipient, in.Text, s.timeout(in.TimeoutSeconds))
	if err != nil {
		return nil, replyOutput{}, err
	}
	return nil, replyOutput{Text: text}, nil
}

type listChatsInput struct {
	Limit int `json:"limit,omitempty"`
}

type chatInfo struct {
	ChatAddress    string `json:"chat_address"`
	DisplayName    string `json:"display_name,omitempty"`
	LastActivityMs int64  `json:"last_activity_ms"`
}

type listChatsOutput struct {
	Chats []chatInfo `json:"chats"`
}

func (s *Server) handleListChats(_ context.Context, _ *mcp.CallToolRequest, in listChatsInput) (*mcp.CallToolResult, listChatsOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultChatLimit
	}
	chats := s.svc.ListChats(limit)
	out := listChatsOutput{Chats: make([]chatInfo, 0, len(chats))}
	for _, c := range chats {
		out.Chats = append(out.Chats, chatInfo{
			ChatAddress:    c.ChatAddress,
			DisplayName:    c.DisplayName,
			LastActivityMs: c.LastActivityMs,
		})
	}
	return nil, out, nil
}

type getMessagesInput struct {
	ChatAddress string `json:"chat_address"`
	Limit       int    `json:"limit,omitempty"`
}

type messageInfo struct {
	ID          string `json:"id"`
	SenderName  string `json:"sender_name,omitempty"`
	Text        string `json:"text"`
	FromSelf    bool   `json:"from_self"`
	TimestampMs int64  `json:"timestamp_ms"`
}

type getMessagesOutput struct {
	Messages []messageInfo `json:"messages"`
}

func (s *Server) handleGetMessages(_ context.Context, _ *mcp.CallToolRequest, in getMessagesInput) (*mcp.CallToolResult, getMessagesOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	msgs := s.svc.GetMessages(in.ChatAddress, limit)
	out := getMessagesOutput{Messages: make([]messageInfo, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageInfo{
			ID:          m.ID,
			SenderName:  m.SenderName,
			Text:        m.Text,
			FromSelf:    m.FromSelf,
			TimestampMs: m.TimestampMs,
		})
	}
	return nil, out, nil
}

type authStatusOutput struct {
	Connected      bool   `json:"connected"`
	State          string `json:"state"`
	Identity       string `json:"identity,omitempty"`
	LastActivityMs int64  `json:"last_activity_ms,omitempty"`
}

func (s *Server) handleGetAuthStatus(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, authStatusOutput, error) {
	snap := s.svc.AuthStatus()
	return nil, authStatusOutput{
		Connected:      snap.Connected,
		State:          string(snap.State),
		Identity:       snap.Identity,
		LastActivityMs: snap.LastActivityMs,
	}, nil
}

type authChallengeOutput struct {
	Status  string `json:"status"`
	QR      string `json:"qr,omitempty"`
	QRASCII string `json:"qr_ascii,omitempty"`
}

func (s *Server) handleShowAuthChallenge(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, authChallengeOutput, error) {
	ch := s.svc.AuthChallenge(ctx)
	switch ch.State {
	case api.ChallengeConnected:
		return nil, authChallengeOutput{Status: "already connected"}, nil
	case api.ChallengePending:
		return nil, authChallengeOutput{
			Status:  "scan with the WhatsApp app",
			QR:      ch.Code,
			QRASCII: renderQR(ch.Code),
		}, nil
	default:
		return nil, authChallengeOutput{Status: "none available"}, nil
	}
}

func (s *Server) timeout(seconds int) time.Duration {
	if seconds <= 0 {
		return s.cfg.WaitTimeout()
	}
	return time.Duration(seconds) * time.Second
}
