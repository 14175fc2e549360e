package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

var barHeader = []string{"time", "ticker", "open", "high", "low", "close", "volume"}

// WriteBarsToCSV writes daily bars to a file, one row per bar.
func WriteBarsToCSV(bars []domain.Bar, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteBars(file, bars); err != nil {
		return err
	}
	return file.Close()
}

// WriteBars writes bars as CSV with a header row.
func WriteBars(w io.Writer, bars []domain.Bar) error {
	writer := csv.NewWriter(w)
	writer.Write(barHeader)
	for _, b := range bars {
		writer.Write([]string{
			b.Time.UTC().Format(time.RFC3339),
			b.Ticker,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		})
	}
	writer.Flush()
	return writer.Error()
}

// ReadBarsFromCSV loads every bar in a file written by WriteBarsToCSV.
func ReadBarsFromCSV(filename string) ([]domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadBars(file)
}

// ReadBars parses bar CSV. Columns are located by header name; rows are
// returned sorted by ticker and time.
func ReadBars(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read bar header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, h := range barHeader {
		if _, ok := col[h]; !ok {
			return nil, fmt.Errorf("bar file has no %q column", h)
		}
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		at, err := time.Parse(time.RFC3339, rec[col["time"]])
		if err != nil {
			if at, err = time.Parse("2006-01-02", rec[col["time"]]); err != nil {
				return nil, fmt.Errorf("line %d: invalid time %q", line, rec[col["time"]])
			}
		}
		b := domain.Bar{Ticker: domain.NormalizeTicker(rec[col["ticker"]]), Time: at.UTC()}
		for name, dst := range map[string]*float64{"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close, "volume": &b.Volume} {
			if *dst, err = strconv.ParseFloat(rec[col[name]], 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, name, rec[col[name]])
			}
		}
		bars = append(bars, b)
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Ticker != bars[j].Ticker {
			return bars[i].Ticker < bars[j].Ticker
		}
		return bars[i].Time.Before(bars[j].Time)
	})
	return bars, nil
}
