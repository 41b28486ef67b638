package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/arb-engine-go/detector"
	"github.com/defistate/arb-engine-go/engine"
	"github.com/defistate/arb-engine-go/poolstate"
	"github.com/defistate/arb-engine-go/routes"
	"github.com/defistate/arb-engine-go/simulator"
	"github.com/defistate/arb-engine-go/tokenindex"
	"github.com/defistate/arb-engine-go/tokentax"
)

var (
	baseToken = common.BytesToAddress([]byte{0xBA})
	tokenX    = common.BytesToAddress([]byte{0xEC})
	poolOne   = common.BytesToAddress([]byte{0xF1, 0x01})
	poolTwo   = common.BytesToAddress([]byte{0xF1, 0x02})
)

// fakeSource hands out scripted subscriptions and counts Subscribe calls.
type fakeSource struct {
	name      string
	calls     atomic.Int32
	subscribe func(call int) (Subscription, error)
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Subscribe(ctx context.Context) (Subscription, error) {
	return f.subscribe(int(f.calls.Add(1)))
}

type fakeSubscription struct {
	events    chan engine.PoolEvent
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
}

// scriptedSubscription delivers the given events in order, then reports
// finalErr. Events are handed over unbuffered so the error can only be
// observed after every event has been consumed.
func scriptedSubscription(events []engine.PoolEvent, finalErr error) *fakeSubscription {
	s := &fakeSubscription{
		events: make(chan engine.PoolEvent),
		errCh:  make(chan error, 1),
		done:   make(chan struct{}),
	}
	go func() {
		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
		if finalErr != nil {
			s.errCh <- finalErr
		}
	}()
	return s
}

func (s *fakeSubscription) Events() <-chan engine.PoolEvent { return s.events }
func (s *fakeSubscription) Err() <-chan error               { return s.errCh }
func (s *fakeSubscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// newMarket builds a two-pool BASE-X market where X trades cheaper on
// pool one, plus the detector wired over it.
func newMarket(t *testing.T) (*detector.Detector, *poolstate.Cache) {
	t.Helper()

	metas := []engine.PoolMeta{
		{Address: poolOne, Token0: baseToken, Token1: tokenX, Kind: engine.KindConstantProduct, FeeBps: 25},
		{Address: poolTwo, Token0: baseToken, Token1: tokenX, Kind: engine.KindConstantProduct, FeeBps: 25},
	}
	idx := tokenindex.Build(metas)

	states := poolstate.New()
	states.Put(poolOne, &engine.PoolState{
		Kind: engine.KindConstantProduct, Token0: baseToken, Token1: tokenX,
		Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000), FeeBps: 25,
	})
	states.Put(poolTwo, &engine.PoolState{
		Kind: engine.KindConstantProduct, Token0: baseToken, Token1: tokenX,
		Reserve0: big.NewInt(1_050_000), Reserve1: big.NewInt(2_000_000), FeeBps: 25,
	})

	taxes := tokentax.NewTable(nil)
	routeCache, err := routes.Build(routes.BuilderConfig{
		Index:      idx,
		Pools:      metas,
		BaseTokens: []common.Address{baseToken},
		Tax:        taxes,
		Logger:     slog.Default(),
	})
	require.NoError(t, err)

	det, err := detector.New(detector.Config{
		Routes:   routeCache,
		Index:    idx,
		Sim:      simulator.New(states, idx, taxes),
		Logger:   slog.Default(),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return det, states
}

func newLoop(t *testing.T, det *detector.Detector, states *poolstate.Cache, src Source) *Loop {
	t.Helper()
	l, err := New(Config{
		Sources:        []Source{src},
		States:         states,
		Detector:       det,
		Logger:         slog.Default(),
		Registry:       prometheus.NewRegistry(),
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		IdleTimeout:    time.Second,
	})
	require.NoError(t, err)
	return l
}

func TestLoopDeliversOpportunity(t *testing.T) {
	det, states := newMarket(t)

	// 10,000 X leave pool one: reserve1 drops, reserve0 rises.
	swap := engine.PoolEvent{
		Pool:        poolOne,
		Kind:        engine.KindConstantProduct,
		Reserve0:    big.NewInt(1_005_100),
		Reserve1:    big.NewInt(1_990_000),
		BlockNumber: 42,
	}
	// An event for a pool outside the discovery set is skipped.
	unknown := engine.PoolEvent{
		Pool:     common.BytesToAddress([]byte{0xDE, 0xAD}),
		Kind:     engine.KindConstantProduct,
		Reserve0: big.NewInt(1),
		Reserve1: big.NewInt(1),
	}

	src := &fakeSource{name: "primary"}
	src.subscribe = func(call int) (Subscription, error) {
		if call == 1 {
			return scriptedSubscription([]engine.PoolEvent{unknown, swap}, errors.New("stream reset")), nil
		}
		return nil, errors.New("endpoint gone")
	}

	loop := newLoop(t, det, states, src)
	ctx := context.Background()
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	var opp *detector.Opportunity
	select {
	case opp = <-loop.Opportunities():
	case <-time.After(2 * time.Second):
		t.Fatal("no opportunity delivered")
	}
	require.NotNil(t, opp)
	assert.Equal(t, tokenX, opp.Event.Token)
	assert.Equal(t, "10000", opp.Event.Amount.String())
	assert.Equal(t, uint64(42), opp.Event.BlockNumber)
	assert.Positive(t, opp.Best.Profit.Sign())

	// The cache reflects the applied event before detection ran.
	st, ok := states.Get(poolOne)
	require.True(t, ok)
	assert.Equal(t, "1005100", st.Reserve0.String())
	assert.Equal(t, "1990000", st.Reserve1.String())

	// The dead endpoint exhausts the retry budget.
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrAllSourcesFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	// One good connection, then failed dials up to the retry ceiling.
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestHandleEventDeliversAfterCancellation(t *testing.T) {
	det, states := newMarket(t)
	src := &fakeSource{name: "primary"}
	src.subscribe = func(call int) (Subscription, error) {
		return scriptedSubscription(nil, nil), nil
	}
	loop := newLoop(t, det, states, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An event already being processed at shutdown still produces its
	// opportunity on the buffered channel.
	loop.handleEvent(ctx, src, engine.PoolEvent{
		Pool:        poolOne,
		Kind:        engine.KindConstantProduct,
		Reserve0:    big.NewInt(1_005_100),
		Reserve1:    big.NewInt(1_990_000),
		BlockNumber: 42,
	})

	select {
	case opp := <-loop.Opportunities():
		require.NotNil(t, opp)
		assert.Equal(t, tokenX, opp.Event.Token)
		assert.Equal(t, "10000", opp.Event.Amount.String())
	default:
		t.Fatal("opportunity was not delivered")
	}
}

func TestLoopRetryCeiling(t *testing.T) {
	det, states := newMarket(t)

	src := &fakeSource{name: "flaky"}
	src.subscribe = func(call int) (Subscription, error) {
		return nil, errors.New("connection refused")
	}

	loop := newLoop(t, det, states, src)
	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Equal(t, int32(3), src.calls.Load())

	_, open := <-loop.Opportunities()
	assert.False(t, open)
}

func TestLoopIdleWatchdogReconnects(t *testing.T) {
	det, states := newMarket(t)

	src := &fakeSource{name: "silent"}
	src.subscribe = func(call int) (Subscription, error) {
		return scriptedSubscription(nil, nil), nil
	}

	l, err := New(Config{
		Sources:        []Source{src},
		States:         states,
		Detector:       det,
		Logger:         slog.Default(),
		Registry:       prometheus.NewRegistry(),
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		IdleTimeout:    5 * time.Millisecond,
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(context.Background()) }()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, ErrAllSourcesFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never exhausted the retry budget")
	}
	// Every connection went idle and was torn down.
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestLoopCleanCancellation(t *testing.T) {
	det, states := newMarket(t)

	src := &fakeSource{name: "steady"}
	src.subscribe = func(call int) (Subscription, error) {
		return scriptedSubscription(nil, nil), nil
	}

	loop := newLoop(t, det, states, src)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- loop.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, open := <-loop.Opportunities()
	assert.False(t, open)
}

func TestDeriveChange(t *testing.T) {
	prev := &engine.PoolState{
		Kind: engine.KindConstantProduct, Token0: baseToken, Token1: tokenX,
		Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000),
	}

	t.Run("decoded swap wins", func(t *testing.T) {
		tok, amt, ok := deriveChange(prev, engine.PoolEvent{
			Kind:     engine.KindConstantProduct,
			Token:    tokenX,
			Amount:   big.NewInt(777),
			Reserve0: big.NewInt(999_000),
			Reserve1: big.NewInt(2_000_000),
		})
		require.True(t, ok)
		assert.Equal(t, tokenX, tok)
		assert.Equal(t, "777", amt.String())
	})

	t.Run("reserve0 decreased", func(t *testing.T) {
		tok, amt, ok := deriveChange(prev, engine.PoolEvent{
			Kind:     engine.KindConstantProduct,
			Reserve0: big.NewInt(995_000),
			Reserve1: big.NewInt(2_011_000),
		})
		require.True(t, ok)
		assert.Equal(t, baseToken, tok)
		assert.Equal(t, "5000", amt.String())
	})

	t.Run("reserve1 decreased", func(t *testing.T) {
		tok, amt, ok := deriveChange(prev, engine.PoolEvent{
			Kind:     engine.KindConstantProduct,
			Reserve0: big.NewInt(1_005_100),
			Reserve1: big.NewInt(1_990_000),
		})
		require.True(t, ok)
		assert.Equal(t, tokenX, tok)
		assert.Equal(t, "10000", amt.String())
	})

	t.Run("no decrease means no trade", func(t *testing.T) {
		_, _, ok := deriveChange(prev, engine.PoolEvent{
			Kind:     engine.KindConstantProduct,
			Reserve0: big.NewInt(1_000_000),
			Reserve1: big.NewInt(2_000_000),
		})
		assert.False(t, ok)
	})

	t.Run("price-only event refreshes without detection", func(t *testing.T) {
		clPrev := &engine.PoolState{Kind: engine.KindConcentratedLiquidity}
		_, _, ok := deriveChange(clPrev, engine.PoolEvent{
			Kind:         engine.KindConcentratedLiquidity,
			SqrtPriceX96: big.NewInt(1 << 30),
			Liquidity:    big.NewInt(1_000_000),
		})
		assert.False(t, ok)
	})

	t.Run("nil previous state", func(t *testing.T) {
		_, _, ok := deriveChange(nil, engine.PoolEvent{
			Kind:     engine.KindConstantProduct,
			Reserve0: big.NewInt(1),
			Reserve1: big.NewInt(1),
		})
		assert.False(t, ok)
	})
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	det, states := newMarket(t)
	_, err = New(Config{
		Sources:  []Source{&fakeSource{name: "x"}},
		States:   states,
		Detector: det,
		Logger:   slog.Default(),
	})
	assert.Error(t, err)
}
