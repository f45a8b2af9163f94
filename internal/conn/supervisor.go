// Package conn supervises the transport connection lifecycle: explicit
// connects, QR authentication, bounded automatic reconnection, and the
// terminal logged-out state.
package conn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dtavares/wamcp/internal/bus"
	"github.com/dtavares/wamcp/internal/status"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// Transport is the downward interface the supervisor drives. *wa.Adapter
// implements it; tests use a fake.
type Transport interface {
	Connect() error
	Disconnect()
	IsLoggedIn() bool
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
}

// Options bound the supervisor's reconnect and connect behavior.
type Options struct {
	MaxAttempts    int
	Backoff        time.Duration
	ConnectTimeout time.Duration
}

// Supervisor owns all transitions of the connection state machine. Automatic
// reconnection is serialized on the Run goroutine; explicit connects are
// serialized by a mutex and never overlap an in-flight attempt.
type Supervisor struct {
	machine   *status.Machine
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	connectMu sync.Mutex
	explicit  atomic.Bool

	qrMu      sync.Mutex
	currentQR string

	cancel context.CancelFunc
}

// NewSupervisor creates a supervisor. It does not touch the transport until
// Run or Connect is called.
func NewSupervisor(machine *status.Machine, transport Transport, b *bus.Bus, logger *zap.Logger, opts Options) *Supervisor {
	return &Supervisor{
		machine:   machine,
		transport: transport,
		bus:       b,
		logger:    logger,
		opts:      opts,
	}
}

// Run subscribes to transport lifecycle events and reacts to them until the
// context is cancelled or Stop is called.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	ch, unsub := s.bus.Subscribe("conn.", 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				s.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the event loop.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Connect performs an explicit connect. It is idempotent while a connect is
// already in flight or the session is open. The call blocks until the
// session opens, a QR challenge appears (which counts as success: the caller
// proceeds to display it), or the timeout elapses. An explicit connect
// resets the reconnect budget.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	switch s.machine.Current() {
	case status.Connected, status.Connecting, status.AwaitingQRScan:
		return nil
	}

	s.machine.ResetReconnect()
	s.explicit.Store(true)
	defer s.explicit.Store(false)

	// Watch for the outcome before kicking the transport so no transition
	// can be missed.
	ch, unsub := s.bus.Subscribe("conn.state_changed", 16)
	defer unsub()

	if err := s.machine.Transition(status.Connecting); err != nil {
		return err
	}

	if err := s.startTransport(ctx); err != nil {
		_ = s.machine.Transition(status.Disconnected)
		return err
	}

	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()
	for {
		select {
		case evt := <-ch:
			change, ok := evt.Payload.(status.Change)
			if !ok {
				continue
			}
			switch change.To {
			case status.Connected, status.AwaitingQRScan:
				return nil
			case status.LoggedOut:
				return fmt.Errorf("logged out during connect")
			case status.Disconnected:
				return fmt.Errorf("transport closed during connect")
			}
		case <-timer.C:
			return fmt.Errorf("connect timed out after %s", s.opts.ConnectTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CurrentQR returns the most recent QR challenge payload, or "" when no
// challenge is outstanding.
func (s *Supervisor) CurrentQR() string {
	s.qrMu.Lock()
	defer s.qrMu.Unlock()
	return s.currentQR
}

// startTransport kicks off the transport connection, attaching the QR flow
// first when there is no stored session.
func (s *Supervisor) startTransport(ctx context.Context) error {
	if !s.transport.IsLoggedIn() {
		// The QR channel must be obtained before Connect.
		qrCh, err := s.transport.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go s.consumeQR(qrCh)
	}
	if err := s.transport.Connect(); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}
	return nil
}

func (s *Supervisor) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "conn.opened":
		identity, _ := evt.Payload.(string)
		s.handleOpened(identity)
	case "conn.closed":
		s.handleClosed()
	case "conn.logged_out":
		reason, _ := evt.Payload.(string)
		s.handleLoggedOut(reason)
	}
}

func (s *Supervisor) handleOpened(identity string) {
	s.setQR("")
	s.machine.SetIdentity(identity)
	if s.machine.Current() == status.Disconnected {
		_ = s.machine.Transition(status.Connecting)
	}
	if err := s.machine.Transition(status.Connected); err != nil {
		s.logger.Warn("unexpected open", zap.Error(err))
		return
	}
	s.logger.Info("session open", zap.String("identity", identity))
}

// handleClosed reacts to a recoverable close: settle in Disconnected, then
// retry once after the backoff if the budget allows. A failed retry surfaces
// as another close, so consecutive failures burn through the budget and the
// machine settles in Disconnected for manual intervention.
func (s *Supervisor) handleClosed() {
	if s.machine.Current() == status.LoggedOut {
		return
	}
	s.setQR("")
	_ = s.machine.Transition(status.Disconnected)

	if s.explicit.Load() {
		// The blocked explicit caller observes this close; no auto retry
		// underneath it.
		return
	}

	attempt := s.machine.ReconnectAttempt()
	if attempt >= s.opts.MaxAttempts {
		s.logger.Error("reconnect budget exhausted, staying disconnected",
			zap.Int("attempts", attempt))
		return
	}
	attempt = s.machine.BumpReconnect()
	s.logger.Warn("connection closed, reconnecting",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", s.opts.MaxAttempts),
		zap.Duration("backoff", s.opts.Backoff))
	time.Sleep(s.opts.Backoff)

	if s.machine.Current() != status.Disconnected {
		// An explicit connect or a logout got there first.
		return
	}
	if err := s.machine.Transition(status.Connecting); err != nil {
		return
	}
	if err := s.startTransport(context.Background()); err != nil {
		s.logger.Error("reconnect attempt failed", zap.Error(err))
		_ = s.machine.Transition(status.Disconnected)
		s.handleClosed()
	}
}

func (s *Supervisor) handleLoggedOut(reason string) {
	s.setQR("")
	_ = s.machine.Transition(status.LoggedOut)
	s.logger.Error("logged out, fresh QR authentication required",
		zap.String("reason", reason))
}

func (s *Supervisor) consumeQR(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case "code":
			s.setQR(item.Code)
			if s.machine.Current() == status.Connecting {
				_ = s.machine.Transition(status.AwaitingQRScan)
			}
			s.bus.Publish(bus.Event{
				Kind:      "conn.qr",
				Timestamp: time.Now(),
				Payload:   item.Code,
			})
		case "success":
			s.setQR("")
			return
		case "timeout":
			s.logger.Warn("QR challenge timed out")
			s.setQR("")
			_ = s.machine.Transition(status.Disconnected)
			return
		default:
			if item.Error != nil {
				s.logger.Error("QR auth failed", zap.Error(item.Error))
				s.setQR("")
				_ = s.machine.Transition(status.Disconnected)
				return
			}
		}
	}
}

func (s *Supervisor) setQR(code string) {
	s.qrMu.Lock()
	s.currentQR = code
	s.qrMu.Unlock()
}
