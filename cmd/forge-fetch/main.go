package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"atlasforge/internal/config"
	"atlasforge/internal/gather"
	"atlasforge/internal/util"
)

func main() {
	var (
		tickersFile = flag.String("tickers-file", "", "file with one ticker per line")
		tickersFlag = flag.String("tickers", "", "comma-separated ticker list")
		startDate   = flag.String("start", "", "start date YYYY-MM-DD (default from config)")
	)
	flag.Parse()

	cfgPath := "config/forge.yaml"
	if p := os.Getenv("FORGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	var tickers []string
	switch {
	case *tickersFile != "":
		tickers, err = gather.ReadTickersFile(*tickersFile)
		if err != nil {
			log.Fatalf("reading tickers: %v", err)
		}
	case *tickersFlag != "":
		for _, t := range strings.Split(*tickersFlag, ",") {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				tickers = append(tickers, t)
			}
		}
	default:
		fmt.Fprintln(os.Stderr, "one of -tickers-file or -tickers is required")
		os.Exit(1)
	}

	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("Alpaca credentials missing: set APCA_API_KEY_ID / APCA_API_SECRET_KEY")
	}

	start := cfg.Fetch.StartDate
	if *startDate != "" {
		start = *startDate
	}

	g := gather.NewDailyBarGatherer(
		cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
		cfg.Storage.PriceDir, tickers,
		cfg.Fetch.BatchSize, cfg.Fetch.MaxWorkers, cfg.Fetch.RateLimitPerMin,
		start,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := g.Run(ctx); err != nil {
		log.Fatalf("fetch failed: %v", err)
	}
}
