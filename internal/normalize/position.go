// Package normalize converts raw upstream position payloads into the
// canonical Position entity and recomputes the derived financial fields.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"futures_watch/internal/models"
	"futures_watch/internal/symbols"
)

var hundred = decimal.NewFromInt(100)

// Position converts one raw position record (snapshot API or push event)
// into the canonical form. It returns false when the record is unusable,
// which callers treat as "drop silently".
func Position(raw map[string]any, fallbackAccountID string) (models.Position, bool) {
	if len(raw) == 0 {
		return models.Position{}, false
	}

	p := models.Position{
		Side: sideOf(raw),
	}

	if id, ok := String(raw, "position_id", "positionId", "id"); ok {
		p.ID = id
	} else if d, ok := Number(raw, "position_id", "positionId", "id"); ok {
		// Some feeds ship numeric ids.
		p.ID = d.String()
	}

	p.ContractID, _ = String(raw, "contractId", "contract_id")
	p.Symbol = extractSymbol(raw)
	if p.Symbol == "" {
		return models.Position{}, false
	}

	p.AccountID, _ = String(raw, "accountId", "account_id")
	if p.AccountID == "" {
		if d, ok := Number(raw, "accountId", "account_id"); ok {
			p.AccountID = d.String()
		} else {
			p.AccountID = fallbackAccountID
		}
	}

	p.Quantity = NumberOr(raw, decimal.Zero, "size", "quantity", "qty")
	p.EntryPrice = NumberOr(raw, decimal.Zero, "averagePrice", "entryPrice", "entry_price", "price")
	// A position that has never been marked falls back to its entry price.
	p.CurrentPrice = NumberOr(raw, p.EntryPrice,
		"marketPrice", "markPrice", "lastPrice", "currentPrice", "current_price")

	p.TickSize = NumberOr(raw, decimal.Zero, "tickSize", "tick_size")
	p.TickValue = NumberOr(raw, decimal.Zero, "tickValue", "tick_value")
	p.PointValue = NumberOr(raw, decimal.Zero, "pointValue", "point_value")

	p.EntryTime, _ = String(raw, "creationTimestamp", "openTimestamp", "timestamp", "entry_time")

	Recompute(&p)

	// Source-provided derived values win over our computation when present.
	if d, ok := Number(raw, "entry_value", "entryValue", "costBasis"); ok {
		p.EntryValue = d
	}
	if d, ok := Number(raw, "current_value", "currentValue", "marketValue"); ok {
		p.CurrentValue = d
	}
	if d, ok := Number(raw, "floatingProfitLoss", "profitAndLoss", "unrealizedPnL", "unrealized_pnl"); ok {
		p.UnrealizedPnl = d
		p.PnlPercent = pnlPercent(p.UnrealizedPnl, p.EntryValue)
	}
	if d, ok := Number(raw, "pnl_percent", "pnlPercent"); ok {
		p.PnlPercent = d
	}
	if d, ok := Number(raw, "realizedProfitLoss", "realizedPnL", "realized_pnl"); ok {
		p.RealizedPnl = d
	}

	return p, true
}

// Multiplier derives the currency value of one point of price movement for
// one unit of quantity. The same multiplier must back entry value, current
// value, and unrealized P&L; mixing sources would silently corrupt P&L.
func Multiplier(p models.Position) decimal.Decimal {
	if !p.PointValue.IsZero() {
		return p.PointValue
	}
	if !p.TickValue.IsZero() && !p.TickSize.IsZero() {
		return p.TickValue.Div(p.TickSize)
	}
	return decimal.NewFromInt(1)
}

// Recompute refreshes every derived financial field from the position's raw
// inputs. Called on normalization and again whenever a quote moves the
// current price.
func Recompute(p *models.Position) {
	mult := Multiplier(*p)
	absQty := p.Quantity.Abs()

	p.EntryValue = p.EntryPrice.Mul(absQty).Mul(mult)
	p.CurrentValue = p.CurrentPrice.Mul(absQty).Mul(mult)
	p.UnrealizedPnl = p.CurrentPrice.Sub(p.EntryPrice).Mul(absQty).Mul(mult).Mul(p.Direction())
	p.PnlPercent = pnlPercent(p.UnrealizedPnl, p.EntryValue)
}

func pnlPercent(unrealized, entryValue decimal.Decimal) decimal.Decimal {
	if entryValue.IsZero() {
		return decimal.Zero
	}
	return unrealized.Div(entryValue).Mul(hundred)
}

// sideOf derives LONG/SHORT from the side/type discriminator. String values
// containing "short" mean SHORT; the ProjectX numeric code uses 1 for LONG
// and anything else for SHORT.
func sideOf(raw map[string]any) string {
	if s, ok := String(raw, "side", "type"); ok {
		if strings.Contains(strings.ToLower(s), "short") {
			return models.SideShort
		}
		return models.SideLong
	}
	if d, ok := Number(raw, "type", "side"); ok {
		if d.Equal(decimal.NewFromInt(1)) {
			return models.SideLong
		}
		return models.SideShort
	}
	return models.SideLong
}

// extractSymbol pulls the instrument identifier out of whichever field the
// source populated and canonicalizes it.
func extractSymbol(raw map[string]any) string {
	if s, ok := String(raw, "symbol", "symbolId"); ok {
		return symbols.Normalize(s)
	}
	// Fall back to deriving the symbol from a dotted contract id.
	if s, ok := String(raw, "contractId", "contract_id", "id"); ok && strings.Contains(s, ".") {
		return symbols.Normalize(s)
	}
	return ""
}

// Quote extracts the (symbol, price) pair from a quote_update payload.
func Quote(raw map[string]any) (string, decimal.Decimal, bool) {
	sym := extractSymbol(raw)
	if sym == "" {
		return "", decimal.Zero, false
	}
	price, ok := Number(raw, "price", "lastPrice", "close", "bidPrice", "askPrice")
	if !ok {
		return "", decimal.Zero, false
	}
	return sym, price, true
}

// Account converts an account payload into the canonical snapshot.
func Account(raw map[string]any) (models.AccountSnapshot, bool) {
	snap := models.AccountSnapshot{}

	if id, ok := String(raw, "account_id", "accountId", "id"); ok {
		snap.AccountID = id
	} else if d, ok := Number(raw, "account_id", "accountId", "id"); ok {
		snap.AccountID = d.String()
	}
	if snap.AccountID == "" {
		return models.AccountSnapshot{}, false
	}

	snap.Balance = NumberOr(raw, decimal.Zero, "balance", "equity", "cashBalance")
	snap.DailyPnl = NumberOr(raw, decimal.Zero, "daily_pnl", "dailyPnl")
	snap.WinRate = NumberOr(raw, decimal.Zero, "win_rate", "winRate")
	snap.MaxDrawdownLimit = NumberOr(raw, decimal.Zero, "max_drawdown_limit", "maxDrawdownLimit")

	if d, ok := Number(raw, "trades_today", "tradesToday"); ok {
		snap.TradesToday = int(d.IntPart())
	}
	if v, ok := raw["paper_trading"].(bool); ok {
		snap.PaperTrading = v
	}
	if v, ok := raw["enabled"].(bool); ok {
		snap.Enabled = v
	} else {
		snap.Enabled = true
	}
	if list, ok := raw["strategies"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				snap.Strategies = append(snap.Strategies, s)
			}
		}
	}

	return snap, true
}

// RealizedPnl extracts a symbol -> realized value map from a trade or
// realized_pnl_update payload. Both the flat map form and the list-of-trades
// form are accepted.
func RealizedPnl(raw map[string]any) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)

	if data, ok := raw["data"].(map[string]any); ok {
		for sym, v := range data {
			if d, ok := toDecimal(v); ok {
				out[symbols.Normalize(sym)] = d
			}
		}
	}
	if list, ok := raw["trades"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sym := extractSymbol(entry)
			if sym == "" {
				continue
			}
			if d, ok := Number(entry, "realizedProfitLoss", "realizedPnL", "realized_pnl", "profitAndLoss", "pnl"); ok {
				out[sym] = d
			}
		}
	}
	// Single-trade form: symbol + value at the top level.
	if len(out) == 0 {
		if sym := extractSymbol(raw); sym != "" {
			if d, ok := Number(raw, "realizedProfitLoss", "realizedPnL", "realized_pnl", "pnl"); ok {
				out[sym] = d
			}
		}
	}
	return out
}

// Contract converts raw contract metadata into the registry entry used for
// contract-aware symbol matching.
func Contract(raw map[string]any) (models.Contract, bool) {
	c := models.Contract{}
	c.ID, _ = String(raw, "id", "contractId", "contract_id")
	if sym, ok := String(raw, "symbol", "name"); ok {
		c.Symbol = symbols.Normalize(sym)
	} else if c.ID != "" {
		c.Symbol = symbols.Normalize(c.ID)
	}
	if c.Symbol == "" {
		return models.Contract{}, false
	}
	c.Name, _ = String(raw, "name", "description")
	c.Expiry, _ = String(raw, "expiry", "maturity")
	if c.Expiry == "" && strings.Count(c.ID, ".") >= 4 {
		parts := strings.Split(strings.ToUpper(c.ID), ".")
		c.Expiry = parts[4]
	}
	c.TickSize = NumberOr(raw, decimal.Zero, "tickSize", "tick_size")
	c.TickValue = NumberOr(raw, decimal.Zero, "tickValue", "tick_value")
	c.PointValue = NumberOr(raw, decimal.Zero, "pointValue", "point_value")
	return c, true
}

// DebugString is a compact human form used in log lines.
func DebugString(p models.Position) string {
	return fmt.Sprintf("%s %s x%s @ %s (pnl %s)",
		p.Side, p.Symbol, p.Quantity.Abs().String(), p.EntryPrice.String(), p.UnrealizedPnl.StringFixed(2))
}
