package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/alpaca"
	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/adapters/universe"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/utils"
)

func main() {
	fs := pflag.NewFlagSet("fetch_bars", pflag.ExitOnError)
	ov := config.BindFlags(fs)
	tickers := fs.StringSlice("tickers", nil, "Tickers to download (default every ticker in the universe file)")
	days := fs.Int("days", 400, "Number of daily bars per ticker")
	out := fs.String("out", "", "Output CSV (default data/bars_<from>_to_<to>.csv)")
	fs.Parse(os.Args[1:])
	// Downloading bars never needs per-strategy accounts.
	fs.Set("dry-run", "true")

	// 1. Load Configuration
	cfg, err := config.LoadConfig(ov)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := context.Background()

	// 3. Initialize Market Data Client (Alpaca Adapter)
	var creds config.Credentials
	for _, id := range domain.AllStrategies {
		if c := cfg.Credentials[id]; c.KeyID != "" && c.SecretKey != "" {
			creds = c
			break
		}
	}
	client, err := alpaca.New(alpaca.Config{
		Name:      "fetch-bars",
		KeyID:     creds.KeyID,
		SecretKey: creds.SecretKey,
		DataURL:   cfg.AlpacaDataURL,
		Feed:      cfg.AlpacaFeed,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Alpaca client")
		log.Fatalf("FATAL: Failed to initialize Alpaca client: %v", err)
	}

	// 4. Resolve tickers
	symbols := *tickers
	if len(symbols) == 0 {
		provider, err := universe.NewFileProvider(cfg.UniverseFile, appLogger)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		u, err := provider.GetUniverse(ctx, time.Now())
		if err != nil {
			appLogger.Error(ctx, err, "Error reading universe")
			log.Fatalf("Error reading universe: %v", err)
		}
		symbols = u.Tickers()
	}

	end := time.Now().UTC()
	var all []domain.Bar
	for _, t := range symbols {
		bars, err := client.GetBars(ctx, t, end, *days)
		if err != nil {
			appLogger.Warn(ctx, "Skipping ticker", map[string]interface{}{"ticker": t, "error": err.Error()})
			continue
		}
		all = append(all, bars...)
	}
	if len(all) == 0 {
		log.Fatalf("No bars fetched for %d tickers", len(symbols))
	}
	appLogger.Info(ctx, "Fetched bars", map[string]interface{}{"tickers": len(symbols), "bars": len(all)})

	filename := *out
	if filename == "" {
		start := all[0].Time
		for _, b := range all {
			if b.Time.Before(start) {
				start = b.Time
			}
		}
		filename = filepath.Join("data", fmt.Sprintf("bars_%s_to_%s.csv", start.Format("20060102"), end.Format("20060102")))
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteBarsToCSV(all, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
