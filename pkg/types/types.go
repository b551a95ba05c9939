// Package types defines the shared vocabulary of the trading core: market
// data, the rolling feature set, signals, and position/trade bookkeeping.
// It has no dependency on any other internal package so it can be imported
// by every layer of the pipeline.
package types

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Trade is a single executed trade on the exchange. Immutable once received.
type Trade struct {
	TsMs  int64
	Price float64
	Size  float64
}

// TradeSide classifies which side of the book a trade's aggressor matched.
type TradeSide int

const (
	TradeAmbiguous TradeSide = iota
	TradeBuy
	TradeSell
)

// Sign returns +1 for a buy, -1 for a sell, 0 for ambiguous.
func (s TradeSide) Sign() float64 {
	switch s {
	case TradeBuy:
		return 1
	case TradeSell:
		return -1
	default:
		return 0
	}
}

// ClassifiedTrade is a Trade tagged with its inferred aggressor side. The
// feature engine's order-flow classifier does not use it; it tracks sides
// in a slice parallel to the bar's trades instead.
type ClassifiedTrade struct {
	Trade
	Side TradeSide
}

// Quote is a top-of-book snapshot. Invariant: AskPx >= BidPx.
type Quote struct {
	TsMs  int64
	BidPx float64
	BidSz float64
	AskPx float64
	AskSz float64
}

// Mid returns the midpoint price.
func (q Quote) Mid() float64 {
	return (q.BidPx + q.AskPx) / 2
}

// Spread returns ask minus bid.
func (q Quote) Spread() float64 {
	return q.AskPx - q.BidPx
}

// QIMB returns the quote size imbalance in [-1, 1], 0 when both sizes are zero.
func (q Quote) QIMB() float64 {
	denom := q.BidSz + q.AskSz
	if denom <= 0 {
		return 0
	}
	return (q.BidSz - q.AskSz) / denom
}

// Bar1m is a finalized one-minute bar closed with a quote snapshot.
// Invariant: Low <= min(Open,Close) <= max(Open,Close) <= High.
type Bar1m struct {
	TsMin      int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VWAP       float64
	TradeCount int
	BidPxClose float64
	AskPxClose float64
	BidSzClose float64
	AskSzClose float64
}

// MidClose returns the midpoint of the closing quote.
func (b Bar1m) MidClose() float64 {
	return (b.BidPxClose + b.AskPxClose) / 2
}

// SpreadClose returns the closing bid-ask spread.
func (b Bar1m) SpreadClose() float64 {
	return b.AskPxClose - b.BidPxClose
}

// QIMBClose returns the quote size imbalance at the bar's close.
func (b Bar1m) QIMBClose() float64 {
	denom := b.BidSzClose + b.AskSzClose
	if denom <= 0 {
		return 0
	}
	return (b.BidSzClose - b.AskSzClose) / denom
}

// ————————————————————————————————————————————————————————————————————————
// Features
// ————————————————————————————————————————————————————————————————————————

// ValueArea describes the price region containing the bulk of recent volume.
// Invalid areas (IsValid=false) are sentinels; no signal may fire on them.
type ValueArea struct {
	POC         float64
	VAH         float64
	VAL         float64
	Coverage    float64
	BinCount    int
	TotalVolume float64
	BinWidth    float64
	IsValid     bool
}

// InvalidValueArea returns the zero-value sentinel for an unavailable value area.
func InvalidValueArea() ValueArea {
	return ValueArea{IsValid: false}
}

// OrderFlowMetrics summarizes signed buy/sell volume over a bar.
// Invariant: BuyVolume + SellVolume + AmbiguousVolume == TotalVolume.
type OrderFlowMetrics struct {
	OF1m            float64
	OFNorm1m        float64
	TotalVolume     float64
	BuyVolume       float64
	SellVolume      float64
	AmbiguousVolume float64
	AmbiguousFrac   float64
}

// IsHighAmbiguous reports whether the ambiguous fraction exceeds the given
// threshold, the trigger for the tick-rule reclassification fallback.
func (m OrderFlowMetrics) IsHighAmbiguous(maxFrac float64) bool {
	return m.AmbiguousFrac > maxFrac
}

// Features1m is the full feature vector computed for one closed bar.
type Features1m struct {
	TsMin        int64
	MidClose     float64
	Sigma240     float64
	BinWidth     float64
	VA           ValueArea
	OrderFlow    OrderFlowMetrics
	QIMBClose    float64
	QIMBEMA      float64
	SpreadAvg60m float64
}

// PriceZone classifies mid_close relative to the current value area.
type PriceZone int

const (
	ZoneInsideVA PriceZone = iota
	ZoneAboveVAH
	ZoneBelowVAL
)

// AcceptanceState is the Mealy-machine memory driving breakout/failed-breakout
// detection. Mutated only by the signal engine, once per feature event.
type AcceptanceState struct {
	ConsecutiveAboveVAH int
	ConsecutiveBelowVAL int
	LockedVAH           float64
	LockedVAL           float64
	SequenceStartTs     int64
}

// ResetAbove zeroes the above-VAH sequence.
func (a *AcceptanceState) ResetAbove() {
	a.ConsecutiveAboveVAH = 0
	a.LockedVAH = 0
}

// ResetBelow zeroes the below-VAL sequence.
func (a *AcceptanceState) ResetBelow() {
	a.ConsecutiveBelowVAL = 0
	a.LockedVAL = 0
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// SignalType enumerates the AMT setups the signal engine can emit.
type SignalType int

const (
	BreakinLong SignalType = iota
	BreakinShort
	FailedBreakoutLong
	FailedBreakoutShort
	BreakoutLong
	BreakoutShort
)

// Priority returns the resolution rank: Break-in=1, Failed=2, Breakout=3.
// When multiple candidates qualify in the same event, the lowest priority wins.
func (s SignalType) Priority() int {
	switch s {
	case BreakinLong, BreakinShort:
		return 1
	case FailedBreakoutLong, FailedBreakoutShort:
		return 2
	case BreakoutLong, BreakoutShort:
		return 3
	default:
		return 99
	}
}

// IsLong reports whether the setup is a long-side setup.
func (s SignalType) IsLong() bool {
	switch s {
	case BreakinLong, FailedBreakoutLong, BreakoutLong:
		return true
	default:
		return false
	}
}

// StrategyTag returns the persistence/reporting tag for this setup.
func (s SignalType) StrategyTag() string {
	switch s {
	case BreakinLong:
		return "breakin_long"
	case BreakinShort:
		return "breakin_short"
	case FailedBreakoutLong:
		return "failed_long"
	case FailedBreakoutShort:
		return "failed_short"
	case BreakoutLong:
		return "breakout_long"
	case BreakoutShort:
		return "breakout_short"
	default:
		return "unknown"
	}
}

// Action is the directive the signal engine hands to the position manager.
type Action int

const (
	ActionHold Action = iota
	ActionEnterLong
	ActionEnterShort
	ActionExit
)

// Signal is the output of one feature event through the signal engine.
// SignalType is nil for HOLD; Stop/TP1/TP2/Size are nil when not applicable.
type Signal struct {
	TsMin            int64
	SignalType       *SignalType
	Action           Action
	Stop             *float64
	TP1              *float64
	TP2              *float64
	Size             *float64
	StrategyTag      string
	Confidence       float64
	Reason           string
	FeaturesSnapshot *Features1m
}

// ————————————————————————————————————————————————————————————————————————
// Positions and trades
// ————————————————————————————————————————————————————————————————————————

// PositionSide is the directional side of a held position.
type PositionSide int

const (
	Long PositionSide = iota
	Short
)

// Sign returns +1 for Long, -1 for Short.
func (s PositionSide) Sign() float64 {
	if s == Long {
		return 1
	}
	return -1
}

// String implements fmt.Stringer.
func (s PositionSide) String() string {
	if s == Long {
		return "LONG"
	}
	return "SHORT"
}

// ExitReason records why a position (or partial) was closed.
type ExitReason int

const (
	ExitStopLoss ExitReason = iota
	ExitTP1
	ExitTP2
	ExitTimeStop
	ExitFlipSignal
	ExitDailyLoss
	ExitManual
)

// String implements fmt.Stringer.
func (r ExitReason) String() string {
	switch r {
	case ExitStopLoss:
		return "STOP_LOSS"
	case ExitTP1:
		return "TP1"
	case ExitTP2:
		return "TP2"
	case ExitTimeStop:
		return "TIME_STOP"
	case ExitFlipSignal:
		return "FLIP_SIGNAL"
	case ExitDailyLoss:
		return "DAILY_LOSS"
	case ExitManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// Position is the single open position for the symbol. Exclusively owned
// and mutated by the position manager; other components observe it only
// through read-only queries.
type Position struct {
	EntryTs      int64
	Side         PositionSide
	EntryPrice   float64
	Size         float64
	OriginalSize float64
	StopPrice    float64
	TP1Price     float64
	TP2Price     float64
	TP1Hit       bool
	StrategyTag  string
	FeesPaid     float64
	FundingPaid  float64
}

// UnrealizedPnL returns the mark-to-market PnL at the given price, ignoring fees.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Side.Sign() * p.Size
}

// IsProfitable reports whether the position is currently in profit.
func (p Position) IsProfitable(price float64) bool {
	return p.UnrealizedPnL(price) > 0
}

// TradeRecord is the immutable audit of one realized round trip. A TP1
// partial exit does not produce its own record.
type TradeRecord struct {
	EntryTs     int64
	ExitTs      int64
	Side        PositionSide
	EntryPrice  float64
	ExitPrice   float64
	Size        float64
	PnLGross    float64
	PnLNet      float64
	Fees        float64
	Funding     float64
	ExitReason  ExitReason
	StrategyTag string
	HoldMinutes int64
}

// DailyPnL is the UTC-day rollup persisted for reporting.
type DailyPnL struct {
	Date          string
	Symbol        string
	RealizedPnL   float64
	UnrealizedPnL float64
	TradesCount   int
	WinCount      int
	LossCount     int
	FeesTotal     float64
	FundingTotal  float64
}

// OrderRecord is the persisted lifecycle record of one exchange order.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          PositionSide
	OrderType     string
	Price         float64
	Qty           float64
	Status        string
	FilledQty     float64
	AvgPrice      float64
	CreatedAt     int64
	UpdatedAt     int64
}

// Stats is the summary returned by the position manager's GetStats.
type Stats struct {
	TotalTrades  int
	Winners      int
	Losers       int
	WinRate      float64
	TotalPnL     float64
	AvgPnL       float64
	AvgWinner    float64
	AvgLoser     float64
	MaxDrawdown  float64
	TotalFees    float64
	TotalFunding float64
}

// ExecutionResult is the outcome of a submitted entry or exit.
type ExecutionResult struct {
	Success     bool
	FilledPrice float64
	FilledQty   float64
	OrderID     string
	Error       string
}
