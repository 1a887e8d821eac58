package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	apperrors "github.com/dorofeevb1/sodrugestvobot/internal/errors"
	"github.com/dorofeevb1/sodrugestvobot/internal/logger"
	"github.com/dorofeevb1/sodrugestvobot/internal/price"
	"github.com/dorofeevb1/sodrugestvobot/internal/scraper"
)

func main() {
	var (
		urls      = flag.String("urls", "", "Comma-separated list of product URLs")
		inputFile = flag.String("file", "", "File containing product URLs (one per line)")
		output    = flag.String("output", "stdout", "Output format: stdout, json")
		headful   = flag.Bool("headful", false, "Show the browser window")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *headful {
		cfg.Browser.Headless = false
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	targets, err := loadTargets(*urls, *inputFile)
	if err != nil {
		log.Error("failed to load urls", "error", err)
		os.Exit(1)
	}
	if len(targets) == 0 {
		fmt.Println("No URLs to look up. Use -urls or -file.")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := scraper.NewFromConfig(cfg, log)
	if err != nil {
		log.Error("failed to initialize scraper", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := 0
	for _, u := range targets {
		if ctx.Err() != nil {
			break
		}

		res, err := service.GetProductData(ctx, u)
		if err != nil {
			failed++
			log.Error("lookup failed", "url", u, "kind", apperrors.KindOf(err), "error", err)
			continue
		}

		switch *output {
		case "json":
			if err := enc.Encode(res); err != nil {
				log.Error("failed to encode result", "error", err)
			}
		default:
			fmt.Printf("%s | %s | %s ₽ (was %s ₽, -%s%%) | %s\n",
				res.Platform.DisplayName(),
				res.Name,
				price.Format(res.CurrentPrice),
				price.Format(res.OriginalPrice),
				price.Format(res.Discount),
				res.URL)
		}
	}

	if failed > 0 {
		os.Exit(2)
	}
}

func loadTargets(urls, file string) ([]string, error) {
	var out []string

	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			out = append(out, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
	}

	return out, nil
}
