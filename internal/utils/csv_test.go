package utils

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

func TestBarsCSV(t *testing.T) {
	day := time.Date(2024, 6, 14, 4, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Ticker: "MSFT", Time: day, Open: 440, High: 445.5, Low: 438, Close: 442.57, Volume: 1.5e7},
		{Ticker: "AAPL", Time: day.AddDate(0, 0, 1), Open: 212, High: 214, Low: 210, Close: 213.1, Volume: 4e7},
		{Ticker: "AAPL", Time: day, Open: 210, High: 213, Low: 209, Close: 212.49, Volume: 5e7},
	}
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, WriteBarsToCSV(bars, path))

	got, err := ReadBarsFromCSV(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, bars[2], got[0])
	assert.Equal(t, bars[1], got[1])
	assert.Equal(t, bars[0], got[2])
}

func TestReadBars_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{"missing column", "time,ticker,open,high,low,close\n", `no "volume" column`},
		{"bad time", "time,ticker,open,high,low,close,volume\nyesterday,A,1,1,1,1,1\n", "invalid time"},
		{"bad number", "time,ticker,open,high,low,close,volume\n2024-06-14,A,1,1,x,1,1\n", "invalid low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadBars(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	bars, err := ReadBars(strings.NewReader("Ticker,Time,Open,High,Low,Close,Volume\nspy,2024-06-14,1,2,0.5,1.5,100\n"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "SPY", bars[0].Ticker)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), bars[0].Time)
}
