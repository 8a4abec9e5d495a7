// Package store holds the single authoritative in-memory trading state and
// reconciles the two update sources feeding it: periodic REST snapshots and
// streamed push events. All mutation flows through the Apply* methods under
// one write lock; reads and observer notifications only ever see value
// snapshots, so a partially-applied update is never visible.
package store

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"futures_watch/internal/models"
	"futures_watch/internal/normalize"
	"futures_watch/internal/symbols"
)

// Listener receives a state snapshot after every transition.
type Listener func(models.TradingState)

// Store is the reconciliation store. Construct with New and inject it into
// the poller, the dispatcher, and any observers; there is no package-level
// instance.
type Store struct {
	mu sync.RWMutex

	state     models.TradingState
	accounts  map[string]models.AccountSnapshot
	contracts map[string]models.Contract
	selected  string // account whose metrics populate the top-level fields

	listeners map[uuid.UUID]Listener
	order     []uuid.UUID
}

// New creates an empty store. State starts with zero values and Ready=false;
// Ready flips after the first successful snapshot application.
func New() *Store {
	return &Store{
		state: models.TradingState{
			Quotes: make(map[string]decimal.Decimal),
		},
		accounts:  make(map[string]models.AccountSnapshot),
		contracts: make(map[string]models.Contract),
		listeners: make(map[uuid.UUID]Listener),
	}
}

// Subscribe registers an observer callback invoked synchronously, in
// registration order, after every state transition. The returned function
// removes the registration; calling it twice is harmless.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	s.mu.Lock()
	s.listeners[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.listeners[id]; !ok {
			return
		}
		delete(s.listeners, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Read returns the current immutable snapshot.
func (s *Store) Read() models.TradingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// PositionsFor returns the positions belonging to one account.
func (s *Store) PositionsFor(accountID string) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Position
	for _, p := range s.state.Positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out
}

// Account returns the last-known snapshot for an account id.
func (s *Store) Account(accountID string) (models.AccountSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.accounts[accountID]
	return snap, ok
}

// RegisterContracts seeds or extends the contract registry used for
// contract-aware symbol matching. Entries are keyed by root symbol, full
// contract code, and contract id.
func (s *Store) RegisterContracts(contracts []models.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contracts {
		if c.Symbol == "" {
			continue
		}
		s.contracts[c.Symbol] = c
		if c.Expiry != "" {
			s.contracts[c.Symbol+c.Expiry] = c
		}
		if c.ID != "" {
			s.contracts[c.ID] = c
		}
	}
}

// SelectAccount switches the displayed account. Positions and orders from
// the previous selection are cleared immediately so the next fetch never
// races a stale display.
func (s *Store) SelectAccount(accountID string) {
	s.mu.Lock()
	prev := s.selected
	s.selected = accountID

	if prev != accountID {
		kept := s.state.Positions[:0:0]
		for _, p := range s.state.Positions {
			if p.AccountID == accountID {
				kept = append(kept, p)
			}
		}
		s.state.Positions = kept
		s.state.OpenOrders = nil
		s.state.RecentOrders = nil
		if snap, ok := s.accounts[accountID]; ok {
			s.applyMetricsLocked(snap)
		} else {
			s.state.AccountBalance = decimal.Zero
			s.state.DailyPnl = decimal.Zero
			s.state.WinRate = decimal.Zero
			s.state.Drawdown = decimal.Zero
			s.state.TradesToday = 0
		}
	}
	s.finishLocked()
}

// SelectedAccount returns the account whose metrics drive the top-level state.
func (s *Store) SelectedAccount() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ApplySnapshot replaces the known position set for one account with the
// normalized snapshot result and optionally applies account metrics.
//
// Merge rule: the snapshot round trip can lag the quote stream by seconds,
// so a position whose QuotedAt stamp is newer than fetchedAt keeps its
// streamed current price (P&L recomputed from it) instead of regressing to
// the snapshot's older mark. Structural fields (quantity, side) always come
// from the snapshot; it is the authority on what is actually open.
func (s *Store) ApplySnapshot(accountID string, positions []models.Position, metrics *models.AccountSnapshot, fetchedAt time.Time) {
	s.mu.Lock()

	existing := make(map[string]models.Position, len(s.state.Positions))
	for _, p := range s.state.Positions {
		existing[p.Key()] = p
	}
	incoming := make(map[string]bool, len(positions))
	for _, p := range positions {
		if !p.Quantity.IsZero() {
			incoming[p.Key()] = true
		}
	}

	merged := make([]models.Position, 0, len(s.state.Positions)+len(positions))
	for _, p := range s.state.Positions {
		// Other account scopes are untouched by this snapshot, except when
		// the snapshot carries the same position key: a streamed snapshot
		// applied under the selected account can re-home a position that
		// arrived tagged with its own account id, and keeping both entries
		// would break key uniqueness.
		if p.AccountID != accountID && !incoming[p.Key()] {
			merged = append(merged, p)
		}
	}

	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		if p.AccountID == "" {
			p.AccountID = accountID
		}
		if old, ok := existing[p.Key()]; ok {
			if preferStreamedPrice(old, p, fetchedAt) {
				p.CurrentPrice = old.CurrentPrice
				p.QuotedAt = old.QuotedAt
				normalize.Recompute(&p)
			}
			if p.RealizedPnl.IsZero() {
				p.RealizedPnl = old.RealizedPnl
			}
		}
		merged = append(merged, p)
	}

	s.state.Positions = merged
	s.state.Ready = true
	if metrics != nil {
		s.accounts[metrics.AccountID] = *metrics
		if metrics.AccountID == s.selected || s.selected == "" {
			s.applyMetricsLocked(*metrics)
		}
	}
	s.state.FetchError = models.FetchOK
	s.finishLocked()
}

// preferStreamedPrice decides whether the previously stored current price is
// fresher than what this snapshot carries. The QuotedAt stamp is the primary
// signal; for entries that predate stamping, a current price that diverged
// from the snapshot's own entry price marks the entry as quote-updated.
func preferStreamedPrice(old, snap models.Position, fetchedAt time.Time) bool {
	if !old.QuotedAt.IsZero() {
		return old.QuotedAt.After(fetchedAt)
	}
	return !old.CurrentPrice.IsZero() &&
		!old.CurrentPrice.Equal(snap.EntryPrice) &&
		snap.CurrentPrice.Equal(snap.EntryPrice)
}

// ApplyQuote records the last traded price for a symbol and recomputes every
// matching position. Positions that do not match keep their slice entry
// untouched, and a tick that changes nothing produces no notification.
func (s *Store) ApplyQuote(symbol string, price decimal.Decimal) {
	sym := symbols.Normalize(symbol)
	if sym == "" {
		return
	}

	s.mu.Lock()

	changed := false
	if prev, ok := s.state.Quotes[sym]; !ok || !prev.Equal(price) {
		s.state.Quotes[sym] = price
		changed = true
	}

	matched := false
	for i := range s.state.Positions {
		p := &s.state.Positions[i]
		if !symbols.Matches(sym, p.Symbol, s.contracts) {
			continue
		}
		matched = true
		p.CurrentPrice = price
		p.QuotedAt = time.Now()
		normalize.Recompute(p)
	}

	if !changed && !matched {
		s.mu.Unlock()
		return
	}
	s.finishLocked()
}

// ApplyPositionDelta normalizes one pushed position record and upserts it.
// A zero resulting quantity removes the position instead of storing it flat.
func (s *Store) ApplyPositionDelta(raw map[string]any) {
	s.mu.Lock()
	fallback := s.selected
	s.mu.Unlock()

	p, ok := normalize.Position(raw, fallback)
	if !ok {
		return // malformed payloads are dropped silently
	}

	s.mu.Lock()

	key := p.Key()
	idx := -1
	for i := range s.state.Positions {
		if s.state.Positions[i].Key() == key {
			idx = i
			break
		}
	}

	if p.Quantity.IsZero() {
		if idx < 0 {
			s.mu.Unlock()
			return
		}
		s.state.Positions = append(s.state.Positions[:idx], s.state.Positions[idx+1:]...)
		s.finishLocked()
		return
	}

	if idx >= 0 {
		old := s.state.Positions[idx]
		// The push event may not carry a mark price; when its current price
		// just mirrors entry and we hold a fresher streamed price, keep ours.
		if !old.QuotedAt.IsZero() && p.CurrentPrice.Equal(p.EntryPrice) {
			p.CurrentPrice = old.CurrentPrice
			p.QuotedAt = old.QuotedAt
			normalize.Recompute(&p)
		}
		if p.RealizedPnl.IsZero() {
			p.RealizedPnl = old.RealizedPnl
		}
		s.state.Positions[idx] = p
	} else {
		s.state.Positions = append(s.state.Positions, p)
		log.Printf("ℹ️ New position: %s", normalize.DebugString(p))
	}
	s.finishLocked()
}

// ApplyRealizedPnl overwrites realized P&L on symbol-matching positions.
// Unrealized fields are never touched here.
func (s *Store) ApplyRealizedPnl(values map[string]decimal.Decimal) {
	if len(values) == 0 {
		return
	}

	s.mu.Lock()

	changed := false
	for sym, v := range values {
		for i := range s.state.Positions {
			p := &s.state.Positions[i]
			if symbols.Matches(sym, p.Symbol, s.contracts) && !p.RealizedPnl.Equal(v) {
				p.RealizedPnl = v
				changed = true
			}
		}
	}

	if !changed {
		s.mu.Unlock()
		return
	}
	s.finishLocked()
}

// ApplyAccountMetrics stores account-level aggregates. Metrics for the
// selected account are promoted to the top-level state fields.
func (s *Store) ApplyAccountMetrics(snap models.AccountSnapshot) {
	if snap.AccountID == "" {
		return
	}

	s.mu.Lock()
	s.accounts[snap.AccountID] = snap
	if snap.AccountID == s.selected || s.selected == "" {
		s.applyMetricsLocked(snap)
	}
	s.finishLocked()
}

// SetOrders replaces the open/recent order slices. A nil slice leaves the
// corresponding slice untouched so a partially failed fetch keeps its stale
// but present data.
func (s *Store) SetOrders(open, recent []models.Order) {
	s.mu.Lock()
	if open != nil {
		s.state.OpenOrders = open
	}
	if recent != nil {
		s.state.RecentOrders = recent
	}
	s.finishLocked()
}

// SetConnected records stream connectivity as reported by the transport.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	if s.state.Connected == connected {
		s.mu.Unlock()
		return
	}
	s.state.Connected = connected
	log.Printf("🔌 Stream connectivity: %v", connected)
	s.finishLocked()
}

// SetFetchError surfaces the poller's cycle classification ("" clears it).
func (s *Store) SetFetchError(kind string) {
	s.mu.Lock()
	if s.state.FetchError == kind {
		s.mu.Unlock()
		return
	}
	s.state.FetchError = kind
	s.finishLocked()
}

// applyMetricsLocked promotes account metrics to the top-level state.
func (s *Store) applyMetricsLocked(snap models.AccountSnapshot) {
	s.state.AccountBalance = snap.Balance
	s.state.DailyPnl = snap.DailyPnl
	s.state.WinRate = snap.WinRate
	s.state.Drawdown = snap.MaxDrawdownLimit
	s.state.TradesToday = snap.TradesToday
}

// finishLocked stamps the transition, releases the write lock, and notifies
// observers with a value snapshot. Callers must hold s.mu.
func (s *Store) finishLocked() {
	s.state.LastUpdate = time.Now()
	snap := s.snapshotLocked()
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	// Outside the lock: a listener may call back into Read or even mutate.
	for _, fn := range listeners {
		fn(snap)
	}
}

// snapshotLocked deep-copies the state so observers cannot reach internals.
func (s *Store) snapshotLocked() models.TradingState {
	snap := s.state
	snap.Positions = append([]models.Position(nil), s.state.Positions...)
	snap.Quotes = make(map[string]decimal.Decimal, len(s.state.Quotes))
	for k, v := range s.state.Quotes {
		snap.Quotes[k] = v
	}
	snap.OpenOrders = append([]models.Order(nil), s.state.OpenOrders...)
	snap.RecentOrders = append([]models.Order(nil), s.state.RecentOrders...)
	return snap
}
