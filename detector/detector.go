// Package detector evaluates precomputed arbitrage routes against a
// pool state change and reports the profitable ones.
package detector

import (
	"context"
	"errors"
	"math/big"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/routes"
	"github.com/defistate/arb-engine-go/simulator"
	"github.com/defistate/arb-engine-go/tokenindex"
)

// Config wires the detector's collaborators.
type Config struct {
	Routes *routes.Cache
	Index  *tokenindex.Index
	Sim    *simulator.Simulator

	Logger   Logger
	Registry prometheus.Registerer

	// Workers bounds concurrent route evaluation; zero means GOMAXPROCS.
	Workers int
}

func (c *Config) validate() error {
	if c.Routes == nil {
		return errors.New("config: Routes cannot be nil")
	}
	if c.Index == nil {
		return errors.New("config: Index cannot be nil")
	}
	if c.Sim == nil {
		return errors.New("config: Sim cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

// Detector runs one detection pass per pool change event. It holds only
// read-only collaborators and is safe for concurrent use.
type Detector struct {
	routes  *routes.Cache
	index   *tokenindex.Index
	sim     *simulator.Simulator
	logger  Logger
	metrics *Metrics
	workers int
}

func New(cfg Config) (*Detector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Detector{
		routes:  cfg.Routes,
		index:   cfg.Index,
		sim:     cfg.Sim,
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registry),
		workers: workers,
	}, nil
}

// Detect evaluates every cached route through the event's token that
// crosses the event's pool, at the event's trade size. It returns the
// opportunity and true when at least one route is strictly profitable.
// Simulation failures eliminate single routes, never the whole pass.
// A pass that has started always runs to completion; cancellation of
// ctx stops the caller from submitting further events, not this one.
func (d *Detector) Detect(ctx context.Context, ev Event) (*Opportunity, bool) {
	timer := prometheus.NewTimer(d.metrics.detectDuration.WithLabelValues())
	defer timer.ObserveDuration()
	d.metrics.eventsTotal.Inc()

	if ev.Amount == nil || ev.Amount.Sign() <= 0 {
		return nil, false
	}
	tokenID, ok := d.index.Lookup(ev.Token)
	if !ok {
		d.logger.Debug("changed token not indexed", "token", ev.Token.Hex())
		return nil, false
	}

	candidates := d.routes.Routes(tokenID)
	if len(candidates) == 0 {
		return nil, false
	}
	filtered := candidates[:0:0]
	for _, route := range candidates {
		if route.ContainsPool(ev.Pool) {
			filtered = append(filtered, route)
		}
	}
	if len(filtered) == 0 {
		return nil, false
	}
	d.metrics.routesEvaluated.Add(float64(len(filtered)))

	evaluated := d.evaluate(tokenID, ev.Amount, filtered)
	results := evaluated[:0:0]
	for _, r := range evaluated {
		if r.Profit.Sign() > 0 {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, false
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.ProfitPercent > best.ProfitPercent {
			best = r
		}
	}
	d.metrics.opportunitiesTotal.Inc()

	return &Opportunity{
		Event:            ev,
		Profitable:       results,
		Best:             best,
		RoutesConsidered: len(filtered),
	}, true
}

// evaluate prices the filtered routes across the worker pool and keeps
// the strictly profitable ones. The job queue is bounded by the route
// cache, so workers always drain it; a detection pass that has started
// finishes even when the surrounding context is canceled.
func (d *Detector) evaluate(tokenID engine.TokenID, amount *big.Int, filtered []routes.RoutePath) []SimulatedRoute {
	jobs := make(chan routes.RoutePath, len(filtered))
	for _, route := range filtered {
		jobs <- route
	}
	close(jobs)

	var (
		mu      sync.Mutex
		results []SimulatedRoute
		wg      sync.WaitGroup
	)
	workers := d.workers
	if workers > len(filtered) {
		workers = len(filtered)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for route := range jobs {
				sr, ok := d.evaluateRoute(tokenID, amount, route)
				if !ok {
					continue
				}
				mu.Lock()
				results = append(results, sr)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

func (d *Detector) evaluateRoute(tokenID engine.TokenID, amount *big.Int, route routes.RoutePath) (SimulatedRoute, bool) {
	buyPath, sellPath, err := route.SplitAroundToken(tokenID)
	if err != nil {
		return SimulatedRoute{}, false
	}

	buyAmounts, err := d.sim.BuyPathAmounts(buyPath, amount)
	if err != nil {
		d.logger.Debug("buy leg failed", "error", err)
		return SimulatedRoute{}, false
	}
	sellAmounts, err := d.sim.SellPathAmounts(sellPath, amount)
	if err != nil {
		d.logger.Debug("sell leg failed", "error", err)
		return SimulatedRoute{}, false
	}

	amountIn := buyAmounts[0]
	amountOut := sellAmounts[len(sellAmounts)-1]
	if amountIn.Sign() <= 0 {
		return SimulatedRoute{}, false
	}
	// Saturating: a losing route reports zero profit, never negative.
	profit := new(big.Int)
	if amountOut.Cmp(amountIn) > 0 {
		profit.Sub(amountOut, amountIn)
	}

	merged := make([]*big.Int, 0, len(buyAmounts)+len(sellAmounts)-1)
	merged = append(merged, buyAmounts...)
	merged = append(merged, sellAmounts[1:]...)

	pf, _ := new(big.Float).Quo(
		new(big.Float).SetInt(profit),
		new(big.Float).SetInt(amountIn),
	).Float64()

	return SimulatedRoute{
		BuyPath:       buyPath,
		SellPath:      sellPath,
		BuyAmounts:    buyAmounts,
		SellAmounts:   sellAmounts,
		MergedAmounts: merged,
		Profit:        profit,
		ProfitPercent: pf * 100,
	}, true
}
