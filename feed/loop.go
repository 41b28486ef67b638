// Package feed runs the event ingestion loop: one long-lived task per
// subscription source, each applying pool change events to the state
// cache and handing the derived change to the detector. Transport
// failures reconnect with capped exponential back-off up to a retry
// ceiling; an idle watchdog forces a reconnect on silently dead
// connections.
package feed

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/arb-engine-go/detector"
	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/poolstate"
)

const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxRetries     = 10
	DefaultIdleTimeout    = 2 * time.Minute
	DefaultBufferSize     = 64
)

var (
	// ErrAllSourcesFailed reports that every source exhausted its retry
	// budget while the loop was still supposed to be running.
	ErrAllSourcesFailed = errors.New("all event sources failed")

	errIdle         = errors.New("no events within idle window")
	errStreamClosed = errors.New("event stream closed")
)

// Config wires the ingestion loop.
type Config struct {
	Sources  []Source
	States   *poolstate.Cache
	Detector *detector.Detector

	Logger   Logger
	Registry prometheus.Registerer

	// BufferSize is the capacity of the opportunity channel; zero means
	// DefaultBufferSize.
	BufferSize int
	// MaxRetries bounds consecutive reconnection attempts per source;
	// zero means DefaultMaxRetries.
	MaxRetries int
	// InitialBackoff, MaxBackoff and IdleTimeout default to the package
	// constants when zero.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	IdleTimeout    time.Duration
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return errors.New("config: Sources is required")
	}
	if c.States == nil {
		return errors.New("config: States cannot be nil")
	}
	if c.Detector == nil {
		return errors.New("config: Detector cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

// Loop owns the source tasks and the downstream opportunity channel.
type Loop struct {
	sources  []Source
	states   *poolstate.Cache
	detector *detector.Detector
	logger   Logger
	metrics  *Metrics

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	idleTimeout    time.Duration

	oppCh chan *detector.Opportunity
}

func New(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		sources:        cfg.Sources,
		states:         cfg.States,
		detector:       cfg.Detector,
		logger:         cfg.Logger,
		metrics:        NewMetrics(cfg.Registry),
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		idleTimeout:    cfg.IdleTimeout,
	}
	if l.maxRetries <= 0 {
		l.maxRetries = DefaultMaxRetries
	}
	if l.initialBackoff <= 0 {
		l.initialBackoff = DefaultInitialBackoff
	}
	if l.maxBackoff <= 0 {
		l.maxBackoff = DefaultMaxBackoff
	}
	if l.idleTimeout <= 0 {
		l.idleTimeout = DefaultIdleTimeout
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	l.oppCh = make(chan *detector.Opportunity, size)
	return l, nil
}

// Opportunities returns the downstream channel. It is closed when Run
// returns.
func (l *Loop) Opportunities() <-chan *detector.Opportunity {
	return l.oppCh
}

// Run blocks until the context is canceled or every source has
// exhausted its retry budget. In-flight detection work runs to
// completion before a source task exits.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, src := range l.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			l.runSource(ctx, src)
		}(src)
	}
	wg.Wait()
	close(l.oppCh)

	if ctx.Err() != nil {
		return nil
	}
	return ErrAllSourcesFailed
}

// runSource is the reconnect loop for a single source. Consecutive
// failures back off exponentially up to the ceiling; any received event
// resets the budget.
func (l *Loop) runSource(ctx context.Context, src Source) {
	retries := 0
	delay := l.initialBackoff

	for {
		if ctx.Err() != nil {
			l.logger.Info("source shutting down", "source", src.Name())
			return
		}

		sub, err := src.Subscribe(ctx)
		if err != nil {
			retries++
			l.metrics.reconnectsTotal.WithLabelValues(src.Name()).Inc()
			if retries >= l.maxRetries {
				l.metrics.subsystemFailures.WithLabelValues(src.Name()).Inc()
				l.logger.Error("source exhausted retry budget, giving up",
					"source", src.Name(), "retries", retries, "error", err)
				return
			}
			l.logger.Warn("subscribe failed, will retry",
				"source", src.Name(), "error", err, "delay", delay)
			if !l.sleep(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, l.maxBackoff)
			continue
		}

		l.logger.Info("source connected", "source", src.Name())
		saw, err := l.consume(ctx, src, sub)
		sub.Close()
		if saw {
			retries = 0
			delay = l.initialBackoff
		}
		if ctx.Err() != nil {
			l.logger.Info("source shutting down", "source", src.Name())
			return
		}

		retries++
		l.metrics.reconnectsTotal.WithLabelValues(src.Name()).Inc()
		if retries >= l.maxRetries {
			l.metrics.subsystemFailures.WithLabelValues(src.Name()).Inc()
			l.logger.Error("source exhausted retry budget, giving up",
				"source", src.Name(), "retries", retries, "error", err)
			return
		}
		if errors.Is(err, errIdle) {
			l.logger.Warn("idle watchdog fired, reconnecting", "source", src.Name())
		} else {
			l.logger.Warn("subscription lost, reconnecting",
				"source", src.Name(), "error", err, "delay", delay)
		}
		if !l.sleep(ctx, delay) {
			return
		}
		delay = minDuration(delay*2, l.maxBackoff)
	}
}

// consume drains one subscription until it fails, the idle watchdog
// fires, or the context is canceled. It reports whether any event
// arrived on this connection.
func (l *Loop) consume(ctx context.Context, src Source, sub Subscription) (bool, error) {
	idle := time.NewTimer(l.idleTimeout)
	defer idle.Stop()

	saw := false
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return saw, errStreamClosed
			}
			saw = true
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.idleTimeout)
			l.handleEvent(ctx, src, ev)
		case err := <-sub.Err():
			return saw, err
		case <-idle.C:
			return saw, errIdle
		case <-ctx.Done():
			return saw, ctx.Err()
		}
	}
}

// handleEvent applies one event to the state cache, derives the changed
// token, and runs detection synchronously so event order within the
// subscription is preserved.
func (l *Loop) handleEvent(ctx context.Context, src Source, ev engine.PoolEvent) {
	l.metrics.eventsTotal.WithLabelValues(src.Name()).Inc()

	prev, err := l.states.Apply(ev)
	if err != nil {
		l.metrics.decodeSkipsTotal.WithLabelValues(src.Name()).Inc()
		l.logger.Debug("event not applied", "source", src.Name(), "pool", ev.Pool.Hex(), "error", err)
		return
	}

	token, amount, ok := deriveChange(prev, ev)
	if !ok {
		return
	}

	opp, found := l.detector.Detect(ctx, detector.Event{
		Pool:        ev.Pool,
		Token:       token,
		Amount:      amount,
		BlockNumber: ev.BlockNumber,
		ReceivedAt:  time.Unix(0, ev.ReceivedAt),
	})
	if !found {
		return
	}

	// A computed opportunity is never abandoned on shutdown: the channel
	// is buffered and closed only after every source task has exited, so
	// the non-blocking attempt succeeds whenever there is room. Blocking
	// on a full channel still yields to cancellation.
	select {
	case l.oppCh <- opp:
		l.metrics.opportunitiesSent.Inc()
	default:
		select {
		case l.oppCh <- opp:
			l.metrics.opportunitiesSent.Inc()
		case <-ctx.Done():
			l.logger.Warn("opportunity dropped, channel full at shutdown",
				"source", src.Name(), "pool", ev.Pool.Hex())
		}
	}
}

// deriveChange determines which token left the pool and by how much.
// A decoded swap attached to the event wins; otherwise reserve events
// are compared against the previous state, the bought token being the
// side whose reserve decreased. Price-only events carry no magnitude
// and trigger no detection.
func deriveChange(prev *engine.PoolState, ev engine.PoolEvent) (common.Address, *big.Int, bool) {
	if ev.Token != (common.Address{}) && ev.Amount != nil && ev.Amount.Sign() > 0 {
		return ev.Token, ev.Amount, true
	}
	if ev.Kind != engine.KindConstantProduct || prev == nil {
		return common.Address{}, nil, false
	}
	if prev.Reserve0 == nil || prev.Reserve1 == nil || ev.Reserve0 == nil || ev.Reserve1 == nil {
		return common.Address{}, nil, false
	}
	if ev.Reserve0.Cmp(prev.Reserve0) < 0 {
		return prev.Token0, new(big.Int).Sub(prev.Reserve0, ev.Reserve0), true
	}
	if ev.Reserve1.Cmp(prev.Reserve1) < 0 {
		return prev.Token1, new(big.Int).Sub(prev.Reserve1, ev.Reserve1), true
	}
	return common.Address{}, nil, false
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
