// Package position manages the single open position for the traded symbol:
// risk-based sizing, partial exits at TP1/TP2, breakeven stop promotion,
// time-based exits, funding application, and the daily loss gate.
package position

import (
	"fmt"

	"auction-trader/internal/config"
	"auction-trader/pkg/types"
)

// Manager owns the open Position and the realized trade history. It is
// mutated by a single goroutine: the market-data loop that feeds it signals
// and quote-driven exit checks.
type Manager struct {
	cfg config.Config

	initialCapital  float64
	availableMargin float64
	dailyPnL        float64
	haveDailyStart  bool
	dailyStartTs    int64

	position *types.Position
	havePos  bool
	trades   []types.TradeRecord
}

// New returns a Manager seeded with initialCapital.
func New(cfg config.Config, initialCapital float64) *Manager {
	return &Manager{
		cfg:             cfg,
		initialCapital:  initialCapital,
		availableMargin: initialCapital,
	}
}

// HasPosition reports whether a position is currently open.
func (m *Manager) HasPosition() bool {
	return m.havePos
}

// Position returns the current open position. The second return is false
// when there is none.
func (m *Manager) Position() (types.Position, bool) {
	if !m.havePos {
		return types.Position{}, false
	}
	return *m.position, true
}

// ProcessSignal applies a signal engine decision: the daily loss gate first,
// then daily-window reset, then HOLD/EXIT/ENTER dispatch.
func (m *Manager) ProcessSignal(signal types.Signal, currentPrice float64, currentTs int64) string {
	if m.checkDailyLossLimit() {
		msg := "Daily loss limit reached - no new trades"
		if m.havePos {
			msg = m.closePosition(currentPrice, currentTs, types.ExitDailyLoss)
		}
		m.checkDailyReset(currentTs)
		return msg
	}

	m.checkDailyReset(currentTs)

	switch signal.Action {
	case types.ActionHold:
		return ""
	case types.ActionExit:
		if m.havePos {
			return m.closePosition(currentPrice, currentTs, types.ExitManual)
		}
		return ""
	case types.ActionEnterLong, types.ActionEnterShort:
		return m.handleEntry(signal, currentPrice, currentTs)
	default:
		return ""
	}
}

// DailyLossBlocked reports ErrDailyLossLimit when the configured daily loss
// cap has already been breached for the current UTC day.
func (m *Manager) DailyLossBlocked() error {
	if m.checkDailyLossLimit() {
		return fmt.Errorf("daily pnl %.2f, limit %.2f: %w", m.dailyPnL, m.cfg.Risk.MaxDailyLoss, ErrDailyLossLimit)
	}
	return nil
}

// CloseManual closes the open position at currentPrice with ExitManual as
// the reason, for operator-initiated flattening outside the signal flow.
func (m *Manager) CloseManual(currentPrice float64, currentTs int64) (string, error) {
	if !m.havePos {
		return "", ErrNoPosition
	}
	return m.closePosition(currentPrice, currentTs, types.ExitManual), nil
}

// CheckExits evaluates stop/TP1/TP2/time exits in priority order against the
// current bar's high/low and mid price. Returns "" when nothing fired.
func (m *Manager) CheckExits(high, low, currentPrice float64, currentTs int64) string {
	if !m.havePos {
		return ""
	}

	if m.checkStop(high, low) {
		return m.closePosition(m.position.StopPrice, currentTs, types.ExitStopLoss)
	}

	if m.checkTP1(high, low) {
		return m.partialExitTP1(currentTs)
	}

	if m.checkTP2(high, low) {
		return m.closePosition(m.position.TP2Price, currentTs, types.ExitTP2)
	}

	if m.checkTimeStop(currentPrice, currentTs) {
		return m.closePosition(currentPrice, currentTs, types.ExitTimeStop)
	}

	return ""
}

func (m *Manager) handleEntry(signal types.Signal, currentPrice float64, currentTs int64) string {
	side := types.Long
	if signal.Action == types.ActionEnterShort {
		side = types.Short
	}

	if m.havePos {
		if !m.cfg.Signal.EnableFlipOnSignal {
			return ""
		}
		if m.position.Side != side {
			m.closePosition(currentPrice, currentTs, types.ExitFlipSignal)
		} else {
			return ""
		}
	}

	stop := 0.0
	if signal.Stop != nil {
		stop = *signal.Stop
	}
	size := m.calculateSize(currentPrice, stop)
	if size <= 0 {
		return "Position size calculation resulted in zero"
	}

	entryFee := m.calculateFee(currentPrice, size, true)

	tp1 := 0.0
	if signal.TP1 != nil {
		tp1 = *signal.TP1
	}
	tp2 := 0.0
	if signal.TP2 != nil {
		tp2 = *signal.TP2
	}

	m.position = &types.Position{
		EntryTs:      currentTs,
		Side:         side,
		EntryPrice:   currentPrice,
		Size:         size,
		OriginalSize: size,
		StopPrice:    stop,
		TP1Price:     tp1,
		TP2Price:     tp2,
		TP1Hit:       false,
		StrategyTag:  signal.StrategyTag,
		FeesPaid:     entryFee,
		FundingPaid:  0,
	}
	m.havePos = true

	return fmt.Sprintf("Entered %s @ %.2f, size=%.6f, stop=%.2f", side, currentPrice, size, stop)
}

// calculateSize sizes from risk_amount/stop_distance, then clamps to the
// configured leverage ceiling.
func (m *Manager) calculateSize(entryPrice, stopPrice float64) float64 {
	riskAmount := m.availableMargin * m.cfg.Sizing.RiskPct
	stopDistance := entryPrice - stopPrice
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}
	if stopDistance <= 0 {
		return 0
	}

	size := riskAmount / stopDistance

	notional := size * entryPrice
	leverage := notional / m.availableMargin
	if leverage > m.cfg.Sizing.MaxLeverage {
		maxNotional := m.availableMargin * m.cfg.Sizing.MaxLeverage
		size = maxNotional / entryPrice
	}

	return size
}

// priceCrossed checks whether high/low crossed a target level for the
// current position's side. aboveForLong true means longs trigger on an
// upward cross (TP); false means longs trigger on a downward cross (stop).
func (m *Manager) priceCrossed(high, low, target float64, aboveForLong bool) bool {
	if !m.havePos {
		return false
	}
	isLong := m.position.Side == types.Long
	if aboveForLong {
		if isLong {
			return high >= target
		}
		return low <= target
	}
	if isLong {
		return low <= target
	}
	return high >= target
}

func (m *Manager) checkStop(high, low float64) bool {
	if !m.havePos {
		return false
	}
	return m.priceCrossed(high, low, m.position.StopPrice, false)
}

func (m *Manager) checkTP1(high, low float64) bool {
	if !m.havePos || m.position.TP1Hit || m.position.TP1Price == 0 {
		return false
	}
	return m.priceCrossed(high, low, m.position.TP1Price, true)
}

func (m *Manager) checkTP2(high, low float64) bool {
	if !m.havePos || m.position.TP2Price == 0 {
		return false
	}
	return m.priceCrossed(high, low, m.position.TP2Price, true)
}

func (m *Manager) checkTimeStop(currentPrice float64, currentTs int64) bool {
	if !m.havePos {
		return false
	}

	holdMs := currentTs - m.position.EntryTs
	maxHoldMs := int64(m.cfg.Risk.MaxHoldMinutes) * 60_000
	if holdMs < maxHoldMs {
		return false
	}

	if m.cfg.Risk.ExtendIfProfitable && m.position.IsProfitable(currentPrice) {
		return false
	}

	return true
}

func (m *Manager) partialExitTP1(currentTs int64) string {
	if !m.havePos || m.position.TP1Price == 0 {
		return "No position or TP1"
	}

	partialSize := m.position.OriginalSize * m.cfg.Sizing.TP1Pct
	exitPrice := m.position.TP1Price

	priceDiff := exitPrice - m.position.EntryPrice
	if m.position.Side == types.Short {
		priceDiff = -priceDiff
	}
	partialPnL := priceDiff * partialSize

	exitFee := m.calculateFee(exitPrice, partialSize, false)

	m.position.Size -= partialSize
	m.position.TP1Hit = true
	m.position.FeesPaid += exitFee

	if m.cfg.Sizing.MoveStopToBreakevenAfterTP1 {
		m.position.StopPrice = m.position.EntryPrice
	}

	m.availableMargin += partialPnL - exitFee
	m.dailyPnL += partialPnL - exitFee

	msg := fmt.Sprintf("TP1 hit: closed %.0f%% @ %.2f, PnL=%.2f",
		m.cfg.Sizing.TP1Pct*100, exitPrice, partialPnL)
	if m.cfg.Sizing.MoveStopToBreakevenAfterTP1 {
		msg += ", stop moved to breakeven"
	}
	return msg
}

func (m *Manager) closePosition(exitPrice float64, currentTs int64, reason types.ExitReason) string {
	if !m.havePos {
		return "No position to close"
	}

	pos := *m.position

	priceDiff := exitPrice - pos.EntryPrice
	if pos.Side == types.Short {
		priceDiff = -priceDiff
	}
	grossPnL := priceDiff * pos.Size

	exitFee := m.calculateFee(exitPrice, pos.Size, false)
	netPnL := grossPnL - exitFee

	holdMinutes := (currentTs - pos.EntryTs) / 60_000

	trade := types.TradeRecord{
		EntryTs:     pos.EntryTs,
		ExitTs:      currentTs,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Size:        pos.OriginalSize,
		PnLGross:    grossPnL,
		PnLNet:      netPnL - pos.FeesPaid - pos.FundingPaid,
		Fees:        pos.FeesPaid + exitFee,
		Funding:     pos.FundingPaid,
		ExitReason:  reason,
		StrategyTag: pos.StrategyTag,
		HoldMinutes: holdMinutes,
	}
	m.trades = append(m.trades, trade)

	m.availableMargin += netPnL
	m.dailyPnL += netPnL

	m.position = nil
	m.havePos = false

	return fmt.Sprintf("Closed %s @ %.2f, reason=%s, PnL=%.2f", pos.Side, exitPrice, reason, netPnL)
}

func (m *Manager) calculateFee(price, size float64, isEntry bool) float64 {
	notional := price * size

	feeBps := m.cfg.Execution.TakerFeeBps
	if isEntry && m.cfg.Execution.UseLimitForEntry {
		feeBps = m.cfg.Execution.MakerFeeBps
	}

	return notional * feeBps / 10_000
}

func (m *Manager) checkDailyLossLimit() bool {
	if m.cfg.Risk.MaxDailyLoss <= 0 {
		return false
	}
	return m.dailyPnL <= -m.cfg.Risk.MaxDailyLoss
}

func (m *Manager) checkDailyReset(currentTs int64) {
	const msPerDay = 86_400_000
	currentDay := currentTs / msPerDay

	if !m.haveDailyStart {
		m.haveDailyStart = true
		m.dailyStartTs = currentTs
		return
	}

	startDay := m.dailyStartTs / msPerDay
	if currentDay > startDay {
		m.dailyPnL = 0
		m.dailyStartTs = currentTs
	}
}

// ApplyFunding charges or credits the open position for one funding
// settlement. Longs pay on a positive rate, shorts pay on a negative rate.
func (m *Manager) ApplyFunding(fundingRate, markPrice float64) string {
	if !m.havePos {
		return ""
	}

	notional := m.position.Size * markPrice
	payment := notional * fundingRate
	if m.position.Side == types.Short {
		payment = -payment
	}

	m.position.FundingPaid += payment
	m.availableMargin -= payment

	return fmt.Sprintf("Funding: %.4f", payment)
}

// TotalPnL sums realized net PnL across all recorded trades.
func (m *Manager) TotalPnL() float64 {
	var total float64
	for _, t := range m.trades {
		total += t.PnLNet
	}
	return total
}

// Equity returns the current mark-to-initial-capital equity.
func (m *Manager) Equity() float64 {
	return m.initialCapital + m.TotalPnL()
}

// Trades returns the realized trade history, oldest first. The caller must
// not mutate the returned slice.
func (m *Manager) Trades() []types.TradeRecord {
	return m.trades
}

// GetStats summarizes the realized trade history: win rate, average PnL,
// peak-to-trough drawdown, total fees and funding.
func (m *Manager) GetStats() types.Stats {
	if len(m.trades) == 0 {
		return types.Stats{}
	}

	var winners, losers int
	var winnerSum, loserSum float64
	for _, t := range m.trades {
		if t.PnLNet > 0 {
			winners++
			winnerSum += t.PnLNet
		} else {
			losers++
			loserSum += t.PnLNet
		}
	}

	equityCurve := make([]float64, 0, len(m.trades)+1)
	equityCurve = append(equityCurve, m.initialCapital)
	for _, t := range m.trades {
		equityCurve = append(equityCurve, equityCurve[len(equityCurve)-1]+t.PnLNet)
	}

	peak := equityCurve[0]
	var maxDD float64
	for _, eq := range equityCurve {
		if eq > peak {
			peak = eq
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - eq) / peak
		}
		if dd > maxDD {
			maxDD = dd
		}
	}

	total := m.TotalPnL()
	var totalFees, totalFunding float64
	for _, t := range m.trades {
		totalFees += t.Fees
		totalFunding += t.Funding
	}

	avgWinner := 0.0
	if winners > 0 {
		avgWinner = winnerSum / float64(winners)
	}
	avgLoser := 0.0
	if losers > 0 {
		avgLoser = loserSum / float64(losers)
	}

	return types.Stats{
		TotalTrades:  len(m.trades),
		Winners:      winners,
		Losers:       losers,
		WinRate:      float64(winners) / float64(len(m.trades)),
		TotalPnL:     total,
		AvgPnL:       total / float64(len(m.trades)),
		AvgWinner:    avgWinner,
		AvgLoser:     avgLoser,
		MaxDrawdown:  maxDD,
		TotalFees:    totalFees,
		TotalFunding: totalFunding,
	}
}

// Reset clears position and trade history; if initialCapital is nonzero it
// replaces the starting balance, used between backtest runs.
func (m *Manager) Reset(initialCapital float64) {
	if initialCapital != 0 {
		m.initialCapital = initialCapital
	}
	m.availableMargin = m.initialCapital
	m.dailyPnL = 0
	m.haveDailyStart = false
	m.dailyStartTs = 0
	m.position = nil
	m.havePos = false
	m.trades = nil
}
