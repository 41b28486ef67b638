package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sugawarayuuta/sonnet"

	"github.com/defistate/arb-engine-go/engine"
)

const (
	// RPCNamespace is the namespace under which the streamer is registered.
	RPCNamespace                = "dex"
	PoolEventSubscriptionMethod = "subscribePoolEvents"
)

// RPCSourceConfig configures one subscription endpoint.
type RPCSourceConfig struct {
	// Name labels the source in logs and metrics.
	Name string
	URL  string

	Logger Logger
	// BufferSize is the capacity of the decoded event channel; zero
	// means DefaultBufferSize.
	BufferSize uint
}

func (c *RPCSourceConfig) validate() error {
	if c.Name == "" {
		return errors.New("config: Name is required")
	}
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// RPCSource subscribes to a pool event stream over go-ethereum's rpc
// transport (WebSocket or IPC). Each Subscribe call dials a fresh
// connection, so the ingestion loop's reconnect logic gets a clean slate
// every time.
type RPCSource struct {
	name       string
	url        string
	logger     Logger
	bufferSize uint
}

func NewRPCSource(cfg RPCSourceConfig) (*RPCSource, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}
	return &RPCSource{
		name:       cfg.Name,
		url:        cfg.URL,
		logger:     cfg.Logger,
		bufferSize: size,
	}, nil
}

func (s *RPCSource) Name() string { return s.name }

func (s *RPCSource) Subscribe(ctx context.Context) (Subscription, error) {
	client, err := rpc.DialContext(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	rawCh := make(chan json.RawMessage)
	clientSub, err := client.Subscribe(ctx, RPCNamespace, rawCh, PoolEventSubscriptionMethod)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &rpcSubscription{
		client: client,
		sub:    clientSub,
		events: make(chan engine.PoolEvent, s.bufferSize),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
		logger: s.logger,
		name:   s.name,
	}
	go sub.pump(rawCh)
	return sub, nil
}

type rpcSubscription struct {
	client *rpc.Client
	sub    *rpc.ClientSubscription

	events chan engine.PoolEvent
	errCh  chan error

	closeOnce sync.Once
	closed    chan struct{}

	logger Logger
	name   string
}

func (s *rpcSubscription) Events() <-chan engine.PoolEvent { return s.events }

func (s *rpcSubscription) Err() <-chan error { return s.errCh }

func (s *rpcSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.sub.Unsubscribe()
		s.client.Close()
	})
}

// pump decodes raw messages into pool events. Malformed messages are
// dropped with a log line rather than tearing down the subscription.
func (s *rpcSubscription) pump(rawCh chan json.RawMessage) {
	defer close(s.events)
	for {
		select {
		case raw := <-rawCh:
			ev, err := decodePoolEvent(raw)
			if err != nil {
				s.logger.Debug("dropping malformed event", "source", s.name, "error", err)
				continue
			}
			ev.ReceivedAt = time.Now().UnixNano()
			select {
			case s.events <- ev:
			case <-s.closed:
				return
			}
		case err := <-s.sub.Err():
			select {
			case s.errCh <- err:
			default:
			}
			return
		case <-s.closed:
			return
		}
	}
}

// poolEventMessage is the wire form of one stream notification. Numeric
// amounts travel as decimal strings so 256-bit values survive JSON.
type poolEventMessage struct {
	Pool string `json:"pool"`
	Kind string `json:"kind"`

	Reserve0 string `json:"reserve0,omitempty"`
	Reserve1 string `json:"reserve1,omitempty"`

	SqrtPriceX96 string `json:"sqrtPriceX96,omitempty"`
	Liquidity    string `json:"liquidity,omitempty"`
	Tick         int32  `json:"tick,omitempty"`

	Token  string `json:"token,omitempty"`
	Amount string `json:"amount,omitempty"`

	BlockNumber uint64 `json:"blockNumber"`
}

func decodePoolEvent(raw json.RawMessage) (engine.PoolEvent, error) {
	var msg poolEventMessage
	if err := sonnet.Unmarshal(raw, &msg); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("unmarshal pool event: %w", err)
	}
	if !common.IsHexAddress(msg.Pool) {
		return engine.PoolEvent{}, fmt.Errorf("invalid pool address %q", msg.Pool)
	}

	ev := engine.PoolEvent{
		Pool:        common.HexToAddress(msg.Pool),
		Tick:        msg.Tick,
		BlockNumber: msg.BlockNumber,
	}

	switch msg.Kind {
	case "constant-product":
		ev.Kind = engine.KindConstantProduct
	case "concentrated-liquidity":
		ev.Kind = engine.KindConcentratedLiquidity
	default:
		return engine.PoolEvent{}, fmt.Errorf("unknown pool kind %q", msg.Kind)
	}

	var err error
	if ev.Reserve0, err = parseWireAmount(msg.Reserve0); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("reserve0: %w", err)
	}
	if ev.Reserve1, err = parseWireAmount(msg.Reserve1); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("reserve1: %w", err)
	}
	if ev.SqrtPriceX96, err = parseWireAmount(msg.SqrtPriceX96); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("sqrtPriceX96: %w", err)
	}
	if ev.Liquidity, err = parseWireAmount(msg.Liquidity); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("liquidity: %w", err)
	}
	if ev.Amount, err = parseWireAmount(msg.Amount); err != nil {
		return engine.PoolEvent{}, fmt.Errorf("amount: %w", err)
	}
	if msg.Token != "" {
		if !common.IsHexAddress(msg.Token) {
			return engine.PoolEvent{}, fmt.Errorf("invalid token address %q", msg.Token)
		}
		ev.Token = common.HexToAddress(msg.Token)
	}
	return ev, nil
}

// parseWireAmount reads a non-negative decimal string; the empty string
// means the field was absent.
func parseWireAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
