package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position side constants. Anything that is not SHORT is treated as LONG.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Position represents a single open trading position in canonical form.
//
// The upstream APIs ship position records in several shapes (snapshot REST
// payloads, user-hub push events); everything is funnelled through the
// normalize package so the rest of the system only ever sees this struct.
type Position struct {
	ID         string `json:"position_id"` // Opaque upstream id; may be empty
	AccountID  string `json:"account_id"`
	Symbol     string `json:"symbol"` // Canonical form (see internal/symbols)
	ContractID string `json:"contract_id"`

	Side     string          `json:"side"` // LONG or SHORT
	Quantity decimal.Decimal `json:"quantity"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`

	// Derived financials. Recomputed from the raw inputs whenever a price
	// moves; never trusted blindly from the source.
	EntryValue    decimal.Decimal `json:"entry_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	PnlPercent    decimal.Decimal `json:"pnl_percent"`

	RealizedPnl decimal.Decimal `json:"realized_pnl"`
	EntryTime   string          `json:"entry_time,omitempty"`

	// Pricing metadata used to derive the price multiplier.
	TickSize   decimal.Decimal `json:"tick_size"`
	TickValue  decimal.Decimal `json:"tick_value"`
	PointValue decimal.Decimal `json:"point_value"`

	// QuotedAt records when a streamed quote last touched CurrentPrice.
	// Zero means the price still comes from a snapshot or push event.
	QuotedAt time.Time `json:"-"`
}

// Key returns the identity used for upserts: the upstream id when present,
// otherwise the (symbol, side) pair.
func (p Position) Key() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Symbol + "|" + p.Side
}

// Direction returns +1 for LONG and -1 for SHORT as a decimal factor.
func (p Position) Direction() decimal.Decimal {
	if p.Side == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Order represents an order as last fetched from the snapshot API.
type Order struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Quantity       decimal.Decimal `json:"qty"`
	FilledQuantity decimal.Decimal `json:"filled_qty"`
	Price          decimal.Decimal `json:"price"`
	FilledPrice    decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Contract carries instrument metadata for contract-aware symbol matching
// and price-multiplier derivation.
type Contract struct {
	ID         string          `json:"id"`     // e.g. CON.F.US.MES.H25
	Symbol     string          `json:"symbol"` // root, e.g. MES
	Name       string          `json:"name"`
	Expiry     string          `json:"expiry"` // month/year code, e.g. H25
	TickSize   decimal.Decimal `json:"tick_size"`
	TickValue  decimal.Decimal `json:"tick_value"`
	PointValue decimal.Decimal `json:"point_value"`
}

// AccountSnapshot is the account-level aggregate owned by the store.
// Positions are NOT embedded; they are looked up by AccountID.
type AccountSnapshot struct {
	AccountID        string          `json:"account_id"`
	Balance          decimal.Decimal `json:"balance"`
	PaperTrading     bool            `json:"paper_trading"`
	Enabled          bool            `json:"enabled"`
	DailyPnl         decimal.Decimal `json:"daily_pnl"`
	WinRate          decimal.Decimal `json:"win_rate"`
	TradesToday      int             `json:"trades_today"`
	MaxDrawdownLimit decimal.Decimal `json:"max_drawdown_limit"`
	Strategies       []string        `json:"strategies,omitempty"`
}

// Fetch error classifications surfaced to observers (see poller).
const (
	FetchOK          = ""
	FetchTimeout     = "timeout"     // "backend is slow"
	FetchUnavailable = "unavailable" // "data unavailable"
)

// TradingState is the aggregate snapshot exposed to observers.
//
// Every mutation inside the store produces a new value; observers always
// receive a copy they cannot use to reach store internals.
type TradingState struct {
	Ready     bool `json:"ready"`
	Connected bool `json:"connected"`

	AccountBalance decimal.Decimal `json:"accountBalance"`
	DailyPnl       decimal.Decimal `json:"dailyPnl"`
	WinRate        decimal.Decimal `json:"winRate"`
	Drawdown       decimal.Decimal `json:"drawdown"`
	TradesToday    int             `json:"tradesToday"`

	Positions    []Position                 `json:"positions"`
	Quotes       map[string]decimal.Decimal `json:"quotes"`
	OpenOrders   []Order                    `json:"openOrders"`
	RecentOrders []Order                    `json:"recentOrders"`

	FetchError string    `json:"fetchError,omitempty"` // FetchTimeout or FetchUnavailable
	LastUpdate time.Time `json:"lastUpdate"`
}
