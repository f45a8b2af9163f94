// Package api implements the operations behind the tool surface: send,
// wait-for-reply, history queries, and auth status. It composes the
// transport, the correlation engine, the history store and the connection
// state machine.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtavares/wamcp/internal/correlate"
	"github.com/dtavares/wamcp/internal/history"
	"github.com/dtavares/wamcp/internal/status"
	"github.com/dtavares/wamcp/internal/wa"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when an operation needs a live session and
// there is none. Business operations are never retried internally; only the
// connection itself auto-retries.
var ErrNotConnected = errors.New("not connected to WhatsApp")

// ErrNoTarget is returned when a wait is requested with no chat address
// and nothing has been sent yet, so no target is derivable.
var ErrNoTarget = errors.New("no chat address given and nothing sent yet")

// TextSender is what the service needs from the transport for sends.
type TextSender interface {
	SendText(ctx context.Context, address, text string) (string, time.Time, error)
}

// Connector is what the service needs from the connection supervisor.
type Connector interface {
	Connect(ctx context.Context) error
	CurrentQR() string
}

// SendResult reports a completed send.
type SendResult struct {
	MessageID   string
	TimestampMs int64
}

// ChallengeState classifies the auth challenge response.
type ChallengeState string

const (
	ChallengeConnected ChallengeState = "connected"
	ChallengePending   ChallengeState = "pending"
	ChallengeNone      ChallengeState = "none"
)

// Challenge is the current QR challenge, if any.
type Challenge struct {
	State ChallengeState
	Code  string
}

// Service implements the tool operations.
type Service struct {
	machine *status.Machine
	sender  TextSender
	conn    Connector
	engine  *correlate.Engine
	hist    *history.Store
	logger  *zap.Logger
}

// NewService creates the service.
func NewService(machine *status.Machine, sender TextSender, conn Connector, engine *correlate.Engine, hist *history.Store, logger *zap.Logger) *Service {
	return &Service{
		machine: machine,
		sender:  sender,
		conn:    conn,
		engine:  engine,
		hist:    hist,
		logger:  logger,
	}
}

// Send normalizes the recipient, sends text, and records the outbound echo.
func (s *Service) Send(ctx context.Context, recipient, text string) (*SendResult, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	addr := wa.NormalizeRecipient(recipient)
	return s.send(ctx, addr, text)
}

// WaitForReply blocks until a reply arrives in the given chat (or, with an
// empty address, in whatever chat was last sent to) or the timeout elapses.
func (s *Service) WaitForReply(ctx context.Context, chatAddress string, timeout time.Duration) (string, error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}

	key := correlate.WildcardKey
	chat := ""
	if chatAddress != "" {
		chat = wa.NormalizeRecipient(chatAddress)
		key = chat
	} else if s.engine.LastSent() == "" {
		return "", ErrNoTarget
	}

	ch, err := s.engine.RegisterWait(key, chat, timeout)
	if err != nil {
		return "", err
	}
	return s.await(ctx, key, ch)
}

// SendAndWait sends text to recipient and waits for the first reply from
// that exact chat. The waiter is registered, deadline armed, before the
// transport send, so a reply can never outrun its waiter; and it is keyed
// to the resolved address, never the wildcard, so concurrent unrelated
// sends cannot steal the wait.
func (s *Service) SendAndWait(ctx context.Context, recipient, text string, timeout time.Duration) (string, error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	addr := wa.NormalizeRecipient(recipient)

	ch, err := s.engine.RegisterWait(addr, addr, timeout)
	if err != nil {
		return "", err
	}
	if _, err := s.send(ctx, addr, text); err != nil {
		s.engine.Cancel(addr)
		return "", err
	}
	return s.await(ctx, addr, ch)
}

// ListChats returns up to limit chats, most recently active first.
func (s *Service) ListChats(limit int) []history.ChatSummary {
	return s.hist.ListChats(limit)
}

// GetMessages returns up to limit stored messages for the chat in
// chronological order.
func (s *Service) GetMessages(chatAddress string, limit int) []history.Message {
	addr := wa.NormalizeRecipient(chatAddress)
	return s.hist.Messages(addr, limit)
}

// AuthStatus returns the current connection status. Pure read.
func (s *Service) AuthStatus() status.Status {
	return s.machine.Snapshot()
}

// AuthChallenge returns the current QR challenge. When the session is down
// and no challenge is outstanding, it kicks a background connect so a fresh
// challenge can appear; this is also the manual path out of LoggedOut and
// out of an exhausted reconnect budget.
func (s *Service) AuthChallenge(ctx context.Context) Challenge {
	snap := s.machine.Snapshot()
	if snap.Connected {
		return Challenge{State: ChallengeConnected}
	}
	if code := s.conn.CurrentQR(); code != "" {
		return Challenge{State: ChallengePending, Code: code}
	}
	if snap.State == status.Disconnected || snap.State == status.LoggedOut {
		go func() {
			if err := s.conn.Connect(context.Background()); err != nil {
				s.logger.Warn("connect from auth challenge failed", zap.Error(err))
			}
		}()
	}
	return Challenge{State: ChallengeNone}
}

func (s *Service) requireConnected() error {
	snap := s.machine.Snapshot()
	if snap.Connected {
		return nil
	}
	if snap.State == status.LoggedOut {
		return fmt.Errorf("%w: logged out, fresh QR authentication required", ErrNotConnected)
	}
	return ErrNotConnected
}

// send performs the transport send against an already normalized address
// and records the outbound echo.
func (s *Service) send(ctx context.Context, addr, text string) (*SendResult, error) {
	clientID := uuid.New().String()
	s.engine.NoteSend(addr)

	id, ts, err := s.sender.SendText(ctx, addr, text)
	if err != nil {
		s.logger.Error("send failed",
			zap.String("client_msg_id", clientID),
			zap.String("chat", addr),
			zap.Error(err))
		return nil, fmt.Errorf("send to %s: %w", addr, err)
	}
	if id == "" {
		id = clientID
	}
	now := ts.UnixMilli()

	s.hist.RecordChat(addr, "", now)
	s.hist.Append(history.Message{
		ID:          id,
		ChatAddress: addr,
		Text:        text,
		FromSelf:    true,
		TimestampMs: now,
	})
	s.machine.MarkActivity(now)

	s.logger.Info("message sent",
		zap.String("client_msg_id", clientID),
		zap.String("server_msg_id", id),
		zap.String("chat", addr))
	return &SendResult{MessageID: id, TimestampMs: now}, nil
}

// await delivers the waiter outcome, cancelling the waiter if the caller
// goes away first.
func (s *Service) await(ctx context.Context, key string, ch <-chan correlate.Outcome) (string, error) {
	select {
	case out := <-ch:
		if out.Err != nil {
			return "", out.Err
		}
		return out.Text, nil
	case <-ctx.Done():
		s.engine.Cancel(key)
		return "", ctx.Err()
	}
}
