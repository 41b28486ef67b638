package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/defistate/arb-engine-go/cmd/scanner/config"
	"github.com/defistate/arb-engine-go/detector"
	"github.com/defistate/arb-engine-go/discovery"
	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/feed"
	"github.com/defistate/arb-engine-go/poolstate"
	"github.com/defistate/arb-engine-go/pricing"
	"github.com/defistate/arb-engine-go/routes"
	"github.com/defistate/arb-engine-go/simulator"
	"github.com/defistate/arb-engine-go/tokenindex"
	"github.com/defistate/arb-engine-go/tokentax"
)

func main() {
	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	close := func() {
		os.Exit(1)
	}

	rootLogger := slog.New(rootLogHandler)
	prometheusRegistry := prometheus.DefaultRegisterer
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		close()
	}

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metas, err := loadPools(cfg, rootLogger)
	if err != nil {
		rootLogger.Error("Failed to load pool set", "error", err)
		close()
	}
	rootLogger.Info("Pool set loaded", "pools", len(metas))

	taxes := tokentax.NewTable(nil)
	if cfg.TaxReport != "" {
		var skipped int
		taxes, skipped, err = tokentax.Load(cfg.TaxReport)
		if err != nil {
			rootLogger.Error("Failed to load token tax report", "error", err)
			close()
		}
		rootLogger.Info("Token tax report loaded", "tokens", taxes.Len(), "skipped", skipped)
	}

	index := tokenindex.Build(metas)
	states := poolstate.New()
	for _, meta := range metas {
		states.Put(meta.Address, &engine.PoolState{
			Kind:   meta.Kind,
			Token0: meta.Token0,
			Token1: meta.Token1,
			FeeBps: meta.FeeBps,
			FeePpm: meta.FeePpm,
		})
	}

	routeCache, err := routes.Build(routes.BuilderConfig{
		Index:      index,
		Pools:      metas,
		BaseTokens: cfg.BaseTokenAddresses(),
		Tax:        taxes,
		Logger:     rootLogger.With("component", "route-builder"),
		MaxHops:    cfg.MaxHops,
		Workers:    cfg.Workers,
	})
	if err != nil {
		rootLogger.Error("Failed to build route cache", "error", err)
		close()
	}
	rootLogger.Info("Route cache built",
		"tokens", routeCache.TokenCount(), "routes", routeCache.RouteCount())

	det, err := detector.New(detector.Config{
		Routes:   routeCache,
		Index:    index,
		Sim:      simulator.New(states, index, taxes),
		Logger:   rootLogger.With("component", "detector"),
		Registry: prometheusRegistry,
		Workers:  cfg.Workers,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize detector", "error", err)
		close()
	}

	sources := make([]feed.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		source, err := feed.NewRPCSource(feed.RPCSourceConfig{
			Name:   src.Name,
			URL:    src.URL,
			Logger: rootLogger.With("component", "rpc-source", "source", src.Name),
		})
		if err != nil {
			rootLogger.Error("Failed to initialize source", "source", src.Name, "error", err)
			close()
		}
		sources = append(sources, source)
	}

	loop, err := feed.New(feed.Config{
		Sources:     sources,
		States:      states,
		Detector:    det,
		Logger:      rootLogger.With("component", "feed"),
		Registry:    prometheusRegistry,
		BufferSize:  cfg.EventBufferSize,
		MaxRetries:  cfg.MaxRetries,
		IdleTimeout: cfg.IdleTimeout,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize ingestion loop", "error", err)
		close()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				rootLogger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	consumeOpportunities(ctx, cfg, loop, index, rootLogger)

	if err := <-runErr; err != nil {
		rootLogger.Error("Ingestion loop terminated", "error", err)
		close()
	}
}

// consumeOpportunities logs detected opportunities, dropping those
// whose profit prices below the configured USD floor.
func consumeOpportunities(ctx context.Context, cfg *config.ScannerConfig, loop *feed.Loop, index *tokenindex.Index, logger *slog.Logger) {
	prices := pricing.DefaultTable()
	minProfit := decimal.NewFromFloat(cfg.MinProfitUSD)

	for {
		select {
		case opp, ok := <-loop.Opportunities():
			if !ok {
				return
			}
			base, _ := index.Resolve(opp.Best.BuyPath.Base())
			profitUSD, priced := pricing.ValueUSD(prices, base, opp.Best.Profit, 18)
			if priced && profitUSD.LessThan(minProfit) {
				continue
			}
			logger.Info("Arbitrage opportunity",
				"pool", opp.Event.Pool.Hex(),
				"token", opp.Event.Token.Hex(),
				"block", opp.Event.BlockNumber,
				"base", base.Hex(),
				"amount_in", opp.Best.MergedAmounts[0].String(),
				"amount_out", opp.Best.MergedAmounts[len(opp.Best.MergedAmounts)-1].String(),
				"profit", opp.Best.Profit.String(),
				"profit_pct", opp.Best.ProfitPercent,
				"profit_usd", profitUSD.StringFixed(4),
				"routes_considered", opp.RoutesConsidered,
				"profitable_routes", len(opp.Profitable),
			)
		case <-ctx.Done():
			return
		}
	}
}

func loadPools(cfg *config.ScannerConfig, logger *slog.Logger) ([]engine.PoolMeta, error) {
	opts := discovery.Options{VenueFeeBps: cfg.VenueFeeBps}

	var metas []engine.PoolMeta
	for _, path := range cfg.PairFiles {
		loaded, skipped, err := discovery.LoadPoolsJSON(path, opts)
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			logger.Warn("Skipped malformed pair records", "file", path, "skipped", skipped)
		}
		metas = append(metas, loaded...)
	}
	if cfg.PoolDatabase != "" {
		loaded, err := discovery.LoadPoolsSQLite(cfg.PoolDatabase, opts)
		if err != nil {
			return nil, err
		}
		metas = append(metas, loaded...)
	}

	// The same pool can appear in several inputs; first record wins.
	seen := make(map[common.Address]struct{}, len(metas))
	deduped := metas[:0]
	for _, meta := range metas {
		if _, dup := seen[meta.Address]; dup {
			continue
		}
		seen[meta.Address] = struct{}{}
		deduped = append(deduped, meta)
	}
	return deduped, nil
}

func loadConfig() (*config.ScannerConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
