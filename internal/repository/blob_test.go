package repository

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobCandles() []types.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []types.Candle
	for i, inst := range []string{"BTC", "ETH", "BTC", "SOL"} {
		p := decimal.RequireFromString("100.000000001").Add(decimal.NewFromInt(int64(i)))
		out = append(out, types.Candle{
			Instrument: inst,
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Open:       p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(int64(10 + i)),
		})
	}
	return out
}

func TestCandleBlob_RoundTrip(t *testing.T) {
	in := blobCandles()
	var buf bytes.Buffer
	require.NoError(t, WriteCandleBlob(&buf, in))

	out, err := ReadCandleBlob(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Instrument, out[i].Instrument)
		assert.True(t, in[i].Timestamp.Equal(out[i].Timestamp))
		assert.True(t, in[i].Close.Equal(out[i].Close), "close %s != %s", in[i].Close, out[i].Close)
		assert.True(t, in[i].Volume.Equal(out[i].Volume))
	}
}

func TestBlobSource_LoadCandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.arrow")
	var buf bytes.Buffer
	require.NoError(t, WriteCandleBlob(&buf, blobCandles()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	src := BlobSource{Path: path}
	got, err := src.LoadCandles(context.Background(), []string{"BTC", "SOL"}, time.Time{}, time.Time{}, types.Hour)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "SOL", got[2].Instrument)

	_, err = src.LoadCandles(context.Background(), []string{"DOGE"}, time.Time{}, time.Time{}, types.Hour)
	assert.ErrorIs(t, err, ErrNoCandles)

	_, err = BlobSource{Path: filepath.Join(t.TempDir(), "missing")}.LoadCandles(context.Background(), []string{"BTC"}, time.Time{}, time.Time{}, types.Hour)
	assert.Error(t, err)
}
