package engine

import (
	"bytes"
	"encoding/csv"
	"testing"

	"cryptobacktester/types"
)

func TestWriteTradesCSV(t *testing.T) {
	trades := []types.Trade{
		{Seq: 0, ID: tradeID("run-1", 0), Timestamp: t0, Instrument: "BTC", Side: types.SideTypeBuy,
			Quantity: d("2"), Price: d("100"), Fee: d("0.2"), CostBasis: d("100"), OriginalType: types.SignalEntry, Reason: "breakout"},
		{Seq: 1, ID: tradeID("run-1", 1), Timestamp: t0, Instrument: "BTC", Side: types.SideTypeSell,
			Quantity: d("2"), Price: d("110"), Fee: d("0.22"), CostBasis: d("100"), RealizedPnL: d("19.78"), RealizedPnLPct: 0.1,
			OriginalType: types.SignalStopLoss, Reason: "stop, with comma"},
	}

	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, trades); err != nil {
		t.Fatalf("WriteTradesCSV() error = %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "seq" || len(rows[0]) != len(rows[1]) {
		t.Errorf("unexpected header %v", rows[0])
	}
	sellRow := rows[2]
	if sellRow[4] != "SELL" || sellRow[9] != "19.78" || sellRow[10] != "0.1" || sellRow[14] != "stop, with comma" {
		t.Errorf("sell row = %v", sellRow)
	}
	if rows[1][1] == rows[2][1] {
		t.Error("trade ids should differ per seq")
	}
}
