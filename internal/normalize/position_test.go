package normalize

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"futures_watch/internal/models"
)

func TestNumber_ParseOrDefault(t *testing.T) {
	raw := map[string]any{
		"plain":    4510.25,
		"quoted":   "42.5",
		"number":   json.Number("17"),
		"garbage":  "not-a-number",
		"nan":      math.NaN(),
		"nilfield": nil,
	}

	if d, ok := Number(raw, "plain"); !ok || !d.Equal(decimal.NewFromFloat(4510.25)) {
		t.Errorf("plain float: got %v ok=%v", d, ok)
	}
	if d, ok := Number(raw, "quoted"); !ok || !d.Equal(decimal.NewFromFloat(42.5)) {
		t.Errorf("quoted string: got %v ok=%v", d, ok)
	}
	if d, ok := Number(raw, "number"); !ok || !d.Equal(decimal.NewFromInt(17)) {
		t.Errorf("json.Number: got %v ok=%v", d, ok)
	}
	if _, ok := Number(raw, "garbage"); ok {
		t.Error("garbage string should not parse")
	}
	if _, ok := Number(raw, "nan"); ok {
		t.Error("NaN must be rejected, not stored")
	}
	if _, ok := Number(raw, "missing", "nilfield"); ok {
		t.Error("missing and nil fields should not parse")
	}
	// First usable key wins.
	if d, ok := Number(raw, "garbage", "quoted"); !ok || !d.Equal(decimal.NewFromFloat(42.5)) {
		t.Errorf("fallback chain: got %v ok=%v", d, ok)
	}
}

func TestPosition_LongPnl(t *testing.T) {
	// Entry 4500, qty 2, point value 50, marked at 4510.
	raw := map[string]any{
		"id":          "pos-1",
		"symbol":      "MES",
		"side":        "LONG",
		"size":        2.0,
		"entryPrice":  4500.0,
		"marketPrice": 4510.0,
		"pointValue":  50.0,
	}

	p, ok := Position(raw, "acct-1")
	if !ok {
		t.Fatal("Expected position to normalize")
	}

	if !p.UnrealizedPnl.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected unrealized 1000, got %s", p.UnrealizedPnl)
	}
	if !p.CurrentValue.Equal(decimal.NewFromInt(451000)) {
		t.Errorf("Expected current value 451000, got %s", p.CurrentValue)
	}
	if !p.EntryValue.Equal(decimal.NewFromInt(450000)) {
		t.Errorf("Expected entry value 450000, got %s", p.EntryValue)
	}
	if p.AccountID != "acct-1" {
		t.Errorf("Expected fallback account id, got %q", p.AccountID)
	}
}

func TestPosition_ShortPnl(t *testing.T) {
	raw := map[string]any{
		"symbol":      "MES",
		"side":        "Short",
		"size":        2.0,
		"entryPrice":  4500.0,
		"marketPrice": 4510.0,
		"pointValue":  50.0,
	}

	p, ok := Position(raw, "")
	if !ok {
		t.Fatal("Expected position to normalize")
	}
	if p.Side != models.SideShort {
		t.Fatalf("Expected SHORT, got %s", p.Side)
	}
	if !p.UnrealizedPnl.Equal(decimal.NewFromInt(-1000)) {
		t.Errorf("Expected unrealized -1000, got %s", p.UnrealizedPnl)
	}
}

func TestMultiplier_PointValueAndTickFallback(t *testing.T) {
	// point_value and tick_value/tick_size that agree must yield identical P&L.
	byPoint := models.Position{
		Side: models.SideLong, Quantity: decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(4500), CurrentPrice: decimal.NewFromInt(4510),
		PointValue: decimal.NewFromInt(50),
	}
	byTick := models.Position{
		Side: models.SideLong, Quantity: decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(4500), CurrentPrice: decimal.NewFromInt(4510),
		TickSize: decimal.NewFromFloat(0.25), TickValue: decimal.NewFromFloat(12.5),
	}

	Recompute(&byPoint)
	Recompute(&byTick)

	if !byPoint.UnrealizedPnl.Equal(byTick.UnrealizedPnl) {
		t.Errorf("Multiplier sources disagree: point=%s tick=%s", byPoint.UnrealizedPnl, byTick.UnrealizedPnl)
	}

	// No metadata at all means a multiplier of 1.
	bare := models.Position{
		Side: models.SideLong, Quantity: decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(4500), CurrentPrice: decimal.NewFromInt(4510),
	}
	Recompute(&bare)
	if !bare.UnrealizedPnl.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected multiplier 1 fallback, got pnl %s", bare.UnrealizedPnl)
	}
}

func TestPosition_DefensiveDefaults(t *testing.T) {
	// 1. Missing current price falls back to entry price (flat P&L).
	raw := map[string]any{
		"symbol":       "MNQ",
		"type":         2, // numeric SHORT code
		"quantity":     "3",
		"averagePrice": 21000.0,
	}

	p, ok := Position(raw, "")
	if !ok {
		t.Fatal("Expected position to normalize")
	}
	if p.Side != models.SideShort {
		t.Errorf("Expected numeric side code 2 -> SHORT, got %s", p.Side)
	}
	if !p.CurrentPrice.Equal(p.EntryPrice) {
		t.Errorf("Expected current to default to entry, got %s", p.CurrentPrice)
	}
	if !p.UnrealizedPnl.IsZero() {
		t.Errorf("Expected flat P&L, got %s", p.UnrealizedPnl)
	}
	if !p.PnlPercent.IsZero() {
		t.Errorf("Expected zero pnl percent, got %s", p.PnlPercent)
	}

	// 2. Zero entry value must not divide.
	free := map[string]any{"symbol": "MGC", "size": 1.0, "marketPrice": 10.0}
	fp, ok := Position(free, "")
	if !ok {
		t.Fatal("Expected zero-entry position to normalize")
	}
	if !fp.PnlPercent.IsZero() {
		t.Errorf("Expected pnl percent 0 for zero entry value, got %s", fp.PnlPercent)
	}

	// 3. No symbol anywhere: record is unusable.
	if _, ok := Position(map[string]any{"size": 1.0}, ""); ok {
		t.Error("Expected symbol-less record to be dropped")
	}
}

func TestPosition_SymbolFromContractID(t *testing.T) {
	raw := map[string]any{
		"id":           "12345",
		"contractId":   "CON.F.US.MES.H25",
		"type":         1,
		"size":         1.0,
		"averagePrice": 4500.0,
	}

	p, ok := Position(raw, "")
	if !ok {
		t.Fatal("Expected position to normalize")
	}
	if p.Symbol != "MES" {
		t.Errorf("Expected symbol MES from contract id, got %q", p.Symbol)
	}
	if p.Side != models.SideLong {
		t.Errorf("Expected numeric side code 1 -> LONG, got %s", p.Side)
	}
}

func TestPosition_SourceProvidedDerivedValuesWin(t *testing.T) {
	raw := map[string]any{
		"symbol":             "MES",
		"side":               "LONG",
		"size":               2.0,
		"entryPrice":         4500.0,
		"marketPrice":        4510.0,
		"pointValue":         50.0,
		"floatingProfitLoss": 875.0, // upstream-settled figure differs from formula
	}

	p, ok := Position(raw, "")
	if !ok {
		t.Fatal("Expected position to normalize")
	}
	if !p.UnrealizedPnl.Equal(decimal.NewFromInt(875)) {
		t.Errorf("Expected source-provided pnl 875, got %s", p.UnrealizedPnl)
	}
}

func TestQuote(t *testing.T) {
	sym, price, ok := Quote(map[string]any{"symbolId": "F.US.MES", "lastPrice": 4512.25})
	if !ok || sym != "MES" || !price.Equal(decimal.NewFromFloat(4512.25)) {
		t.Errorf("Quote() = %q %s %v", sym, price, ok)
	}

	if _, _, ok := Quote(map[string]any{"lastPrice": 1.0}); ok {
		t.Error("Expected quote without a symbol to be dropped")
	}
	if _, _, ok := Quote(map[string]any{"symbol": "MES"}); ok {
		t.Error("Expected quote without a price to be dropped")
	}
}

func TestRealizedPnl_Forms(t *testing.T) {
	// Flat map form.
	m := RealizedPnl(map[string]any{"type": "realized_pnl_update", "data": map[string]any{"MES": 125.0}})
	if v, ok := m["MES"]; !ok || !v.Equal(decimal.NewFromInt(125)) {
		t.Errorf("map form: got %v", m)
	}

	// Single trade form.
	m = RealizedPnl(map[string]any{"symbol": "MNQ", "realizedProfitLoss": -40.0})
	if v, ok := m["MNQ"]; !ok || !v.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("trade form: got %v", m)
	}
}
