package wa

import (
	"time"

	"github.com/dtavares/wamcp/internal/bus"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// EventHandler translates raw whatsmeow events into domain events on the
// bus. It owns no state: the connection supervisor and the ingestor
// subscribe to the bus independently.
type EventHandler struct {
	bus      *bus.Bus
	identity func() string
	logger   *zap.Logger
}

// NewEventHandler creates an event handler. identity is read when the
// transport reports an open session.
func NewEventHandler(b *bus.Bus, identity func() string, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:      b,
		identity: identity,
		logger:   logger,
	}
}

// Handle is the main whatsmeow event handler function. whatsmeow invokes it
// synchronously per event, so bus publishes preserve arrival order.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		parsed := ParseMessage(evt)
		h.bus.Publish(bus.Event{
			Kind:      "wa.message",
			Timestamp: time.Now(),
			Payload:   parsed,
		})
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Publish(bus.Event{
			Kind:      "conn.opened",
			Timestamp: time.Now(),
			Payload:   h.identity(),
		})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Publish(bus.Event{Kind: "conn.closed", Timestamp: time.Now()})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.Event{
			Kind:      "conn.logged_out",
			Timestamp: time.Now(),
			Payload:   evt.Reason.String(),
		})
	}
}
