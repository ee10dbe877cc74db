package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"atlasforge/internal/config"
	"atlasforge/internal/domain"
	"atlasforge/internal/forge"
	"atlasforge/internal/indicator"
	"atlasforge/internal/store"
	"atlasforge/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: forge <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run <job.yaml>       Run a forge job locally and print a summary\n")
		fmt.Fprintf(os.Stderr, "  validate <job.yaml>  Validate a job file and print its branch count\n")
		fmt.Fprintf(os.Stderr, "  tickers              List tickers in the price directory\n")
		fmt.Fprintf(os.Stderr, "  indicators           List available indicator families\n")
		fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("forge %s\n", version)

	case "run":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "run requires a job file")
			os.Exit(1)
		}
		if err := runJob(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "validate requires a job file")
			os.Exit(1)
		}
		if err := validateJob(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
			os.Exit(1)
		}

	case "tickers":
		if err := listTickers(); err != nil {
			fmt.Fprintf(os.Stderr, "tickers failed: %v\n", err)
			os.Exit(1)
		}

	case "indicators":
		for _, name := range indicator.NewRegistry().List() {
			fmt.Println(name)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfgPath := "config/forge.yaml"
	if p := os.Getenv("FORGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Default()
	}
	return cfg
}

func loadJobFile(path string) (domain.JobConfig, error) {
	var jobCfg domain.JobConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return jobCfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&jobCfg); err != nil {
		return jobCfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return jobCfg, nil
}

func validateJob(path string) error {
	jobCfg, err := loadJobFile(path)
	if err != nil {
		return err
	}
	if err := jobCfg.Validate(); err != nil {
		return err
	}
	enum, err := forge.NewEnumerator(jobCfg, indicator.NewRegistry())
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d branches across %d tickers\n", enum.Total(), len(jobCfg.Tickers))
	return nil
}

func runJob(path string) error {
	cfg := loadConfig()
	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	jobCfg, err := loadJobFile(path)
	if err != nil {
		return err
	}
	if jobCfg.NumWorkers == 0 {
		jobCfg.NumWorkers = cfg.Forge.NumWorkers
	}

	prices := store.NewParquetPriceStore(cfg.Storage.PriceDir, cfg.Forge.PriceCacheSize)
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	registry := indicator.NewRegistry()
	controller := forge.NewController(prices, db, db, registry, nil, nil, logger)

	// Ctrl-C cancels the job cooperatively; a second Ctrl-C kills.
	ctx := context.Background()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	start := time.Now()
	job, err := controller.Submit(ctx, jobCfg)
	if err != nil {
		return err
	}
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "cancelling...")
		controller.Cancel(job.ID)
		signal.Stop(sig)
	}()
	controller.Wait(job.ID)

	final, err := db.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	printSummary(final, time.Since(start))
	if final.Status == domain.JobFailed {
		return fmt.Errorf("job failed: %s", final.Error)
	}
	return nil
}

func printSummary(job *domain.Job, elapsed time.Duration) {
	perSec := 0.0
	if s := elapsed.Seconds(); s > 0 {
		perSec = float64(job.CompletedBranches) / s
	}
	passRate := 0.0
	if job.CompletedBranches > 0 {
		passRate = 100 * float64(job.PassingBranches) / float64(job.CompletedBranches)
	}

	fmt.Printf("status:    %s\n", job.Status)
	fmt.Printf("branches:  %d / %d completed\n", job.CompletedBranches, job.TotalBranches)
	fmt.Printf("passing:   %d (%.1f%%)\n", job.PassingBranches, passRate)
	fmt.Printf("errored:   %d\n", job.ErroredBranches)
	fmt.Printf("elapsed:   %s (%.0f branches/sec)\n", elapsed.Round(time.Millisecond), perSec)
}

func listTickers() error {
	cfg := loadConfig()
	prices := store.NewParquetPriceStore(cfg.Storage.PriceDir, cfg.Forge.PriceCacheSize)
	tickers, err := prices.ListTickers(context.Background())
	if err != nil {
		return err
	}
	for _, t := range tickers {
		fmt.Println(t)
	}
	return nil
}
