package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"cryptobacktester/types"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
)

// Prices travel as decimal strings so a blob round trip is exact.
var candleSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.BinaryTypes.String},
	{Name: "high", Type: arrow.BinaryTypes.String},
	{Name: "low", Type: arrow.BinaryTypes.String},
	{Name: "close", Type: arrow.BinaryTypes.String},
	{Name: "volume", Type: arrow.BinaryTypes.String},
}, nil)

// WriteCandleBlob encodes candles as a single-record Arrow IPC stream.
func WriteCandleBlob(w io.Writer, candles []types.Candle) error {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), candleSchema)
	defer b.Release()
	for _, c := range candles {
		b.Field(0).(*array.StringBuilder).Append(c.Instrument)
		b.Field(1).(*array.Int64Builder).Append(c.Timestamp.UnixMilli())
		b.Field(2).(*array.StringBuilder).Append(c.Open.String())
		b.Field(3).(*array.StringBuilder).Append(c.High.String())
		b.Field(4).(*array.StringBuilder).Append(c.Low.String())
		b.Field(5).(*array.StringBuilder).Append(c.Close.String())
		b.Field(6).(*array.StringBuilder).Append(c.Volume.String())
	}
	record := b.NewRecord()
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(candleSchema))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	return writer.Close()
}

// ReadCandleBlob decodes every record of an Arrow IPC stream written by WriteCandleBlob.
func ReadCandleBlob(r io.Reader) ([]types.Candle, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer reader.Release()
	if !reader.Schema().Equal(candleSchema) {
		return nil, fmt.Errorf("unexpected arrow schema: %s", reader.Schema())
	}

	var out []types.Candle
	for reader.Next() {
		record := reader.Record()
		symbols := record.Column(0).(*array.String)
		timestamps := record.Column(1).(*array.Int64)
		prices := make([]*array.String, 5)
		for i := range prices {
			prices[i] = record.Column(i + 2).(*array.String)
		}
		for row := 0; row < int(record.NumRows()); row++ {
			var fields [5]decimal.Decimal
			for i, col := range prices {
				d, err := decimal.NewFromString(col.Value(row))
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", row, candleSchema.Field(i+2).Name, err)
				}
				fields[i] = d
			}
			out = append(out, types.Candle{
				Instrument: symbols.Value(row),
				Timestamp:  time.UnixMilli(timestamps.Value(row)).UTC(),
				Open:       fields[0],
				High:       fields[1],
				Low:        fields[2],
				Close:      fields[3],
				Volume:     fields[4],
			})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return out, nil
}

// BlobSource serves candles from an Arrow IPC file exported at the run's
// interval. The interval argument is not used to resample.
type BlobSource struct {
	Path string
}

func (s BlobSource) LoadCandles(_ context.Context, instruments []string, start, end time.Time, _ types.Interval) ([]types.Candle, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", s.Path, err)
	}
	all, err := ReadCandleBlob(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		wanted[inst] = true
	}
	var out []types.Candle
	for _, c := range all {
		if !wanted[c.Instrument] {
			continue
		}
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoCandles
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
