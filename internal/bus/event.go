package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by the daemon:
//   - "wa.message"         payload *wa.ParsedMessage, one per inbound message
//   - "conn.opened"        payload string (authenticated identity)
//   - "conn.closed"        recoverable transport close
//   - "conn.logged_out"    payload string (reason), terminal
//   - "conn.qr"            payload string (current QR code)
//   - "conn.state_changed" payload status.Change
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
