// Package ingest consumes parsed inbound messages from the bus, maintains
// the bounded history, and feeds candidate replies to the correlation engine.
package ingest

import (
	"context"

	"github.com/dtavares/wamcp/internal/bus"
	"github.com/dtavares/wamcp/internal/correlate"
	"github.com/dtavares/wamcp/internal/history"
	"github.com/dtavares/wamcp/internal/status"
	"github.com/dtavares/wamcp/internal/wa"
	"go.uber.org/zap"
)

// Ingestor processes inbound messages one at a time, in arrival order.
type Ingestor struct {
	bus     *bus.Bus
	hist    *history.Store
	engine  *correlate.Engine
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewIngestor creates an ingestor.
func NewIngestor(b *bus.Bus, hist *history.Store, engine *correlate.Engine, machine *status.Machine, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		bus:     b,
		hist:    hist,
		engine:  engine,
		machine: machine,
		logger:  logger,
	}
}

// Start subscribes to inbound message events on the bus.
func (i *Ingestor) Start(ctx context.Context) {
	ctx, i.cancel = context.WithCancel(ctx)
	ch, unsub := i.bus.Subscribe("wa.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Kind != "wa.message" {
					continue
				}
				if pm, ok := evt.Payload.(*wa.ParsedMessage); ok {
					i.handle(pm)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the ingestor.
func (i *Ingestor) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

// handle applies one inbound message. Chat discovery happens for every
// message, text or not. Self-originated messages are recorded so "what did
// I say" queries work, but a waiter must never be satisfied by the caller's
// own outbound echo.
func (i *Ingestor) handle(pm *wa.ParsedMessage) {
	name := ""
	if !pm.FromSelf {
		name = pm.SenderName
	}
	i.hist.RecordChat(pm.ChatAddress, name, pm.TimestampMs)
	i.machine.MarkActivity(pm.TimestampMs)

	if !pm.HasText() {
		return
	}

	i.hist.Append(history.Message{
		ID:            pm.ID,
		ChatAddress:   pm.ChatAddress,
		SenderAddress: pm.SenderAddress,
		SenderName:    pm.SenderName,
		Text:          pm.Text,
		FromSelf:      pm.FromSelf,
		TimestampMs:   pm.TimestampMs,
	})

	if pm.FromSelf {
		return
	}

	matched := i.engine.Offer(pm.ChatAddress, pm.Text)
	i.logger.Debug("message ingested",
		zap.String("chat", pm.ChatAddress),
		zap.Bool("matched", matched),
	)
}
