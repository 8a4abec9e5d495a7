// Package dispatch decodes inbound stream messages, classifies them by their
// type discriminator, and routes them into the store. Malformed or unknown
// messages are swallowed per message; one bad frame must never take down the
// stream subscription.
package dispatch

import (
	"strings"
	"time"

	"github.com/goccy/go-json"

	"futures_watch/internal/models"
	"futures_watch/internal/normalize"
	"futures_watch/internal/store"
)

// Refresher lets the positions_refresh message trigger an out-of-cycle
// snapshot fetch. Satisfied by the poller.
type Refresher interface {
	Refresh(accountID string)
}

// Dispatcher routes decoded stream messages into the store.
type Dispatcher struct {
	store     *store.Store
	refresher Refresher
}

// New wires a dispatcher. refresher may be nil; positions_refresh messages
// are then ignored.
func New(st *store.Store, refresher Refresher) *Dispatcher {
	return &Dispatcher{store: st, refresher: refresher}
}

// HandleMessage decodes one raw frame and dispatches it. Decode errors are
// dropped silently.
func (d *Dispatcher) HandleMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	d.HandleEvent(msg)
}

// HandleConnection records connectivity changes reported by the transport.
func (d *Dispatcher) HandleConnection(connected bool) {
	d.store.SetConnected(connected)
}

// HandleEvent dispatches an already-decoded message. Must stay fast and
// non-blocking: the transport's read loop calls it inline.
func (d *Dispatcher) HandleEvent(msg map[string]any) {
	if len(msg) == 0 {
		return
	}
	// Containment: a corrupt payload must not propagate out of the update
	// path, whatever shape it takes.
	defer func() { _ = recover() }()

	switch d.classify(msg) {
	case "quote_update":
		if sym, price, ok := normalize.Quote(payloadOf(msg)); ok {
			d.store.ApplyQuote(sym, price)
		}
	case "position_update":
		d.store.ApplyPositionDelta(payloadOf(msg))
	case "realtime_snapshot":
		d.applySnapshotMessage(msg)
	case "realized_pnl_update", "trade_update":
		d.store.ApplyRealizedPnl(normalize.RealizedPnl(msg))
	case "account_update":
		if snap, ok := normalize.Account(payloadOf(msg)); ok {
			d.store.ApplyAccountMetrics(snap)
		}
	case "positions_refresh":
		if d.refresher != nil {
			account, _ := normalize.String(msg, "account_id", "accountId")
			d.refresher.Refresh(account)
		}
	}
}

// classify maps a message to its handler. Messages without an explicit type
// but carrying balance/positions fields are treated as realtime snapshots,
// matching the loosest upstream producers.
func (d *Dispatcher) classify(msg map[string]any) string {
	if t, ok := normalize.String(msg, "type", "event"); ok {
		return strings.ToLower(t)
	}
	if _, hasBalance := msg["balance"]; hasBalance {
		return "realtime_snapshot"
	}
	if _, hasPositions := msg["positions"]; hasPositions {
		return "realtime_snapshot"
	}
	return ""
}

// applySnapshotMessage handles the streamed full-state message: account
// metrics plus an optional position list.
func (d *Dispatcher) applySnapshotMessage(msg map[string]any) {
	if snap, ok := normalize.Account(msg); ok {
		d.store.ApplyAccountMetrics(snap)
	}

	list, ok := msg["positions"].([]any)
	if !ok {
		return
	}
	accountID, _ := normalize.String(msg, "account_id", "accountId")
	if accountID == "" {
		accountID = d.store.SelectedAccount()
	}

	positions := make([]models.Position, 0, len(list))
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if pos, ok := normalize.Position(raw, accountID); ok {
			positions = append(positions, pos)
		}
	}
	d.store.ApplySnapshot(accountID, positions, nil, time.Now())
}

// payloadOf unwraps the data/payload envelope some producers add.
func payloadOf(msg map[string]any) map[string]any {
	for _, key := range []string{"data", "payload", "position", "quote"} {
		if inner, ok := msg[key].(map[string]any); ok {
			return inner
		}
	}
	return msg
}
