package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const profitFactorCap = 10.0

type Report struct {
	RunID       string
	StartDate   time.Time
	EndDate     time.Time
	TotalPeriod time.Duration

	TotalTrades int
	BuyTrades   int
	SellTrades  int

	// Absolute performance
	InitialCapital   decimal.Decimal
	FinalValue       decimal.Decimal
	TotalInvested    decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	TotalFees        decimal.Decimal
	TotalReturn      float64
	AnnualizedReturn float64
	ROI              float64

	// Trade-level distribution metrics
	WinRate              float64
	ProfitFactor         float64
	AvgWin               decimal.Decimal
	AvgLoss              decimal.Decimal
	MaxConsecutiveLosses int

	// Risk metrics
	MaxDrawdown float64
	Volatility  float64
	SharpeRatio float64
}

// Metrics returns the report as named metric values for telemetry.
func (r *Report) Metrics() []Metric {
	return []Metric{
		{Name: "total_trades", Value: float64(r.TotalTrades), Unit: "count"},
		{Name: "final_value", Value: r.FinalValue.InexactFloat64(), Unit: "quote"},
		{Name: "realized_pnl", Value: r.TotalRealizedPnL.InexactFloat64(), Unit: "quote"},
		{Name: "total_fees", Value: r.TotalFees.InexactFloat64(), Unit: "quote"},
		{Name: "total_return", Value: r.TotalReturn, Unit: "ratio"},
		{Name: "annualized_return", Value: r.AnnualizedReturn, Unit: "ratio"},
		{Name: "roi", Value: r.ROI, Unit: "percent"},
		{Name: "win_rate", Value: r.WinRate, Unit: "ratio"},
		{Name: "profit_factor", Value: r.ProfitFactor, Unit: "ratio"},
		{Name: "max_drawdown", Value: r.MaxDrawdown, Unit: "ratio"},
		{Name: "volatility", Value: r.Volatility, Unit: "ratio"},
		{Name: "sharpe_ratio", Value: r.SharpeRatio, Unit: "ratio"},
	}
}

type Metric struct {
	Name  string
	Value float64
	Unit  string
}

func PrintReport(w io.Writer, report *Report) {
	fmt.Fprintln(w, "===== Backtest Report =====")
	fmt.Fprintf(w, "Run:                   %s\n", report.RunID)
	fmt.Fprintf(w, "Start Date:            %s\n", report.StartDate.Format("2006-01-02"))
	fmt.Fprintf(w, "Total Period:          %d days\n", report.TotalPeriod/(24*time.Hour))
	fmt.Fprintf(w, "Total Trades:          %d (%d buy / %d sell)\n", report.TotalTrades, report.BuyTrades, report.SellTrades)

	fmt.Fprintln(w, "\n-- Absolute Performance --")
	fmt.Fprintf(w, "Initial Capital:       %s\n", report.InitialCapital)
	fmt.Fprintf(w, "Final Value:           %s\n", report.FinalValue)
	fmt.Fprintf(w, "Realized PnL:          %s\n", report.TotalRealizedPnL)
	fmt.Fprintf(w, "Total Return:          %.4f\n", report.TotalReturn)
	fmt.Fprintf(w, "Annualized Return:     %.4f\n", report.AnnualizedReturn)
	fmt.Fprintf(w, "ROI:                   %.2f%%\n", report.ROI)

	fmt.Fprintln(w, "\n-- Trade-Level Metrics --")
	fmt.Fprintf(w, "Win Rate:              %.4f\n", report.WinRate)
	fmt.Fprintf(w, "Profit Factor:         %.4f\n", report.ProfitFactor)
	fmt.Fprintf(w, "Avg Win:               %s\n", report.AvgWin)
	fmt.Fprintf(w, "Avg Loss:              %s\n", report.AvgLoss)
	fmt.Fprintf(w, "Max Consecutive Losses:%d\n", report.MaxConsecutiveLosses)

	fmt.Fprintln(w, "\n-- Risk Metrics --")
	fmt.Fprintf(w, "Max Drawdown:          %.4f\n", report.MaxDrawdown)
	fmt.Fprintf(w, "Volatility:            %.4f\n", report.Volatility)
	fmt.Fprintf(w, "Sharpe Ratio:          %.4f\n", report.SharpeRatio)

	fmt.Fprintln(w, "\n-- Costs --")
	fmt.Fprintf(w, "Total Fees:            %s\n", report.TotalFees)
	fmt.Fprintln(w, "===========================")
}

// generateReport derives every metric from the full persisted history. The
// final value is the last snapshot, or initial capital when there is none.
func generateReport(runID string, initialCapital decimal.Decimal, start, end time.Time, results types.Results, cfg ReportingConfig) *Report {
	report := &Report{
		RunID:          runID,
		StartDate:      start,
		EndDate:        end,
		TotalPeriod:    end.Sub(start).Truncate(time.Hour * 24),
		TotalTrades:    len(results.Trades),
		InitialCapital: initialCapital,
		FinalValue:     initialCapital,
	}
	if n := len(results.Snapshots); n > 0 {
		report.FinalValue = results.Snapshots[n-1].TotalValue
	}
	if initialCapital.IsPositive() {
		report.TotalReturn = report.FinalValue.Sub(initialCapital).Div(initialCapital).InexactFloat64()
	}
	returns := periodReturns(initialCapital, results.Snapshots)

	var wg sync.WaitGroup
	wg.Add(7)
	go func() {
		report.BuyTrades, report.SellTrades, report.TotalInvested, report.TotalRealizedPnL, report.TotalFees = calcTradeTotals(results.Trades, &wg)
	}()
	go func() {
		report.WinRate, report.ProfitFactor = calcWinRateAndProfitFactor(results.Trades, &wg)
	}()
	go func() {
		report.AvgWin, report.AvgLoss = calcAvgWinLossPerTrade(results.Trades, &wg)
	}()
	go func() {
		report.MaxConsecutiveLosses = calcMaxConsecutiveLosses(results.Trades, &wg)
	}()
	go func() {
		report.MaxDrawdown = calcMaxDrawdown(initialCapital, results.Snapshots, &wg)
	}()
	go func() {
		report.Volatility = calcVolatility(returns, cfg.AnnualizationFactor, &wg)
	}()
	go func() {
		report.SharpeRatio = calcSharpeRatio(returns, cfg.RiskFreeRate, cfg.AnnualizationFactor, &wg)
	}()
	wg.Wait()

	if report.TotalInvested.IsPositive() {
		report.ROI = report.TotalRealizedPnL.Div(report.TotalInvested).InexactFloat64() * 100
	}
	report.AnnualizedReturn = calcAnnualizedReturn(report.TotalReturn, end.Sub(start))
	return report
}

func calcTradeTotals(trades []types.Trade, wg *sync.WaitGroup) (int, int, decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	defer wg.Done()

	buys, sells := 0, 0
	invested := decimal.Zero
	realized := decimal.Zero
	fees := decimal.Zero
	for _, tr := range trades {
		fees = fees.Add(tr.Fee)
		switch tr.Side {
		case types.SideTypeBuy:
			buys++
			invested = invested.Add(tr.Value())
		case types.SideTypeSell:
			sells++
			realized = realized.Add(tr.RealizedPnL)
		}
	}
	return buys, sells, invested, realized, fees
}

func calcWinRateAndProfitFactor(trades []types.Trade, wg *sync.WaitGroup) (float64, float64) {
	defer wg.Done()

	sells, wins := 0, 0
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, tr := range trades {
		if tr.Side != types.SideTypeSell {
			continue
		}
		sells++
		switch {
		case tr.RealizedPnL.IsPositive():
			wins++
			grossProfit = grossProfit.Add(tr.RealizedPnL)
		case tr.RealizedPnL.IsNegative():
			grossLoss = grossLoss.Add(tr.RealizedPnL.Abs())
		}
	}

	winRate := 0.0
	if sells > 0 {
		winRate = float64(wins) / float64(sells)
	}

	var profitFactor float64
	switch {
	case grossLoss.IsPositive():
		profitFactor = grossProfit.Div(grossLoss).InexactFloat64()
	case grossProfit.IsPositive():
		profitFactor = profitFactorCap
	}
	return winRate, profitFactor
}

func calcAvgWinLossPerTrade(trades []types.Trade, wg *sync.WaitGroup) (decimal.Decimal, decimal.Decimal) {
	defer wg.Done()

	sumWins := decimal.Zero
	sumLosses := decimal.Zero // store absolute loss amounts
	winCount := 0
	lossCount := 0
	for _, tr := range trades {
		if tr.Side != types.SideTypeSell {
			continue
		}
		switch {
		case tr.RealizedPnL.IsPositive():
			sumWins = sumWins.Add(tr.RealizedPnL)
			winCount++
		case tr.RealizedPnL.IsNegative():
			sumLosses = sumLosses.Add(tr.RealizedPnL.Abs())
			lossCount++
		}
	}

	avgWin := decimal.Zero
	avgLoss := decimal.Zero
	if winCount > 0 {
		avgWin = sumWins.Div(decimal.NewFromInt(int64(winCount)))
	}
	if lossCount > 0 {
		avgLoss = sumLosses.Div(decimal.NewFromInt(int64(lossCount)))
	}
	return avgWin, avgLoss
}

// Trades are already in execution order.
func calcMaxConsecutiveLosses(trades []types.Trade, wg *sync.WaitGroup) int {
	defer wg.Done()

	maxLossStreak := 0
	currentStreak := 0
	for _, tr := range trades {
		if tr.Side != types.SideTypeSell {
			continue
		}
		if tr.RealizedPnL.IsNegative() {
			currentStreak++
			if currentStreak > maxLossStreak {
				maxLossStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxLossStreak
}

// calcMaxDrawdown works on the cumulative-return series, starting from zero.
func calcMaxDrawdown(initialCapital decimal.Decimal, snapshots []types.PerformanceSnapshot, wg *sync.WaitGroup) float64 {
	defer wg.Done()

	if !initialCapital.IsPositive() {
		return 0
	}
	peak := 0.0
	maxDD := 0.0
	for _, snap := range snapshots {
		cum := snap.TotalValue.Sub(initialCapital).Div(initialCapital).InexactFloat64()
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func calcVolatility(returns []float64, annualizationFactor float64, wg *sync.WaitGroup) float64 {
	defer wg.Done()

	_, std := meanStd(returns)
	if annualizationFactor > 0 {
		std *= math.Sqrt(annualizationFactor)
	}
	return std
}

func calcSharpeRatio(returns []float64, riskFreeRate, annualizationFactor float64, wg *sync.WaitGroup) float64 {
	defer wg.Done()

	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	if annualizationFactor > 0 {
		mean *= annualizationFactor
		std *= math.Sqrt(annualizationFactor)
	}
	return (mean - riskFreeRate) / std
}

func calcAnnualizedReturn(totalReturn float64, period time.Duration) float64 {
	days := period.Hours() / 24
	if days <= 0 {
		return 0
	}
	growth := 1 + totalReturn
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, 365/days) - 1
}

// periodReturns is the return between consecutive snapshots, with initial
// capital acting as the value before the first one.
func periodReturns(initialCapital decimal.Decimal, snapshots []types.PerformanceSnapshot) []float64 {
	if len(snapshots) == 0 {
		return nil
	}
	out := make([]float64, 0, len(snapshots))
	prev := initialCapital
	for _, snap := range snapshots {
		if prev.IsPositive() {
			out = append(out, snap.TotalValue.Div(prev).Sub(decimal.NewFromInt(1)).InexactFloat64())
		}
		prev = snap.TotalValue
	}
	return out
}

// meanStd returns the mean and sample standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) < 2 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var varianceSum float64
	for _, x := range xs {
		diff := x - mean
		varianceSum += diff * diff
	}
	return mean, math.Sqrt(varianceSum / float64(len(xs)-1))
}

func (e *Engine) publishReport(ctx context.Context, report *Report) {
	for _, m := range report.Metrics() {
		if err := e.telemetry.PublishMetric(ctx, report.RunID, m.Name, m.Value, m.Unit); err != nil {
			e.logger.Warn("publish metric failed",
				zap.String("run_id", report.RunID),
				zap.String("metric", m.Name),
				zap.Error(err))
		}
	}
}
