package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"cryptobacktester/types"
)

// WriteTradesCSVFile writes trades to a CSV file at the given path.
func WriteTradesCSVFile(path string, trades []types.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trades file: %w", err)
	}
	defer f.Close()

	return WriteTradesCSV(f, trades)
}

// WriteTradesCSV writes trades to any io.Writer as CSV.
func WriteTradesCSV(w io.Writer, trades []types.Trade) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"seq",
		"trade_id",
		"timestamp", // RFC3339
		"instrument",
		"side",
		"quantity",
		"price",
		"fee",
		"cost_basis",
		"realized_pnl",
		"realized_pnl_pct",
		"cash_after",
		"portfolio_value",
		"signal_type",
		"reason",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, t := range trades {
		if err := writeTradeRow(cw, t); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeTradeRow(cw *csv.Writer, t types.Trade) error {
	record := []string{
		strconv.Itoa(t.Seq),
		t.ID,
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Instrument,
		string(t.Side),
		t.Quantity.String(),
		t.Price.String(),
		t.Fee.String(),
		t.CostBasis.String(),
		t.RealizedPnL.String(),
		strconv.FormatFloat(t.RealizedPnLPct, 'f', -1, 64),
		t.CashAfter.String(),
		t.PortfolioValueAt.String(),
		string(t.OriginalType),
		t.Reason,
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
