package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNoEndpoints is returned when the pool has nothing to call.
var ErrNoEndpoints = errors.New("no rpc endpoints available")

// NamedClient pairs an endpoint URL with its client.
type NamedClient struct {
	URL    string
	Client Client
}

// PoolConfig bounds probe and call durations.
type PoolConfig struct {
	ProbeTimeout time.Duration
	CallTimeout  time.Duration
}

type endpoint struct {
	url       string
	client    Client
	status    models.EndpointStatus
	latencyMs *int64
	checkedAt time.Time
}

// EndpointPool fails over across an ordered list of endpoints. The first
// endpoint that answers serves the call and becomes the single active one.
// Health is refreshed by Probe, which runs on its own timer.
type EndpointPool struct {
	mu        sync.RWMutex
	endpoints []*endpoint
	active    int
	config    PoolConfig
	logger    *logrus.Logger
}

var _ Client = (*EndpointPool)(nil)

func NewEndpointPool(clients []NamedClient, config PoolConfig, logger *logrus.Logger) (*EndpointPool, error) {
	if len(clients) == 0 {
		return nil, ErrNoEndpoints
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}

	p := &EndpointPool{active: -1, config: config, logger: logger}
	for _, c := range clients {
		p.endpoints = append(p.endpoints, &endpoint{
			url:    c.URL,
			client: c.Client,
			status: models.EndpointPending,
		})
	}
	return p, nil
}

// Probe fetches the block height from every endpoint concurrently and
// records latency and status. It returns the resulting snapshot.
func (p *EndpointPool) Probe(ctx context.Context) []models.RpcEndpoint {
	type result struct {
		latency time.Duration
		err     error
	}
	results := make([]result, len(p.endpoints))

	var wg sync.WaitGroup
	for i, ep := range p.endpoints {
		wg.Add(1)
		go func(i int, client Client) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
			defer cancel()

			start := time.Now()
			_, err := client.BlockNumber(probeCtx)
			results[i] = result{latency: time.Since(start), err: err}
		}(i, ep.client)
	}
	wg.Wait()

	now := time.Now()
	p.mu.Lock()
	for i, ep := range p.endpoints {
		ep.checkedAt = now
		if results[i].err != nil {
			ep.status = models.EndpointOffline
			ep.latencyMs = nil
			p.logger.WithError(results[i].err).WithField("url", ep.url).Warn("RPC endpoint probe failed")
			continue
		}
		ms := results[i].latency.Milliseconds()
		ep.status = models.EndpointOnline
		ep.latencyMs = &ms
	}
	if p.active < 0 || p.endpoints[p.active].status == models.EndpointOffline {
		p.active = -1
		for i, ep := range p.endpoints {
			if ep.status == models.EndpointOnline {
				p.active = i
				break
			}
		}
	}
	p.mu.Unlock()

	return p.Snapshot()
}

// Snapshot returns a copy of the endpoint health table.
func (p *EndpointPool) Snapshot() []models.RpcEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.RpcEndpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = models.RpcEndpoint{
			URL:       ep.url,
			Status:    ep.status,
			IsActive:  i == p.active,
			CheckedAt: ep.checkedAt,
		}
		if ep.latencyMs != nil {
			ms := *ep.latencyMs
			out[i].LatencyMs = &ms
		}
	}
	return out
}

// ActiveURL returns the URL of the endpoint that last served a call.
func (p *EndpointPool) ActiveURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.active < 0 {
		return ""
	}
	return p.endpoints[p.active].url
}

// order lists endpoints in configured order with offline ones moved last.
func (p *EndpointPool) order() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	idx := make([]int, 0, len(p.endpoints))
	var offline []int
	for i, ep := range p.endpoints {
		if ep.status == models.EndpointOffline {
			offline = append(offline, i)
			continue
		}
		idx = append(idx, i)
	}
	return append(idx, offline...)
}

func (p *EndpointPool) markServed(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = i
	if p.endpoints[i].status != models.EndpointOnline {
		p.endpoints[i].status = models.EndpointOnline
	}
}

// isAnswer reports whether err came back from a live node, as opposed to a
// transport failure. Answers are returned to the caller without failover.
func isAnswer(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func call[T any](ctx context.Context, p *EndpointPool, op string, fn func(context.Context, Client) (T, error)) (T, error) {
	var zero T
	var errs []error

	for _, i := range p.order() {
		ep := p.endpoints[i]
		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		v, err := fn(callCtx, ep.client)
		cancel()

		if err == nil || isAnswer(err) {
			p.markServed(i)
			return v, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		p.logger.WithError(err).WithFields(logrus.Fields{"url": ep.url, "op": op}).Debug("RPC call failed, trying next endpoint")
		errs = append(errs, fmt.Errorf("%s: %w", ep.url, err))
	}
	if len(errs) == 0 {
		return zero, ErrNoEndpoints
	}
	return zero, fmt.Errorf("%s failed on all endpoints: %w", op, errors.Join(errs...))
}

func (p *EndpointPool) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, p, "chain_id", func(ctx context.Context, c Client) (*big.Int, error) {
		return c.ChainID(ctx)
	})
}

func (p *EndpointPool) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, p, "block_number", func(ctx context.Context, c Client) (uint64, error) {
		return c.BlockNumber(ctx)
	})
}

func (p *EndpointPool) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, p, "header_by_number", func(ctx context.Context, c Client) (*types.Header, error) {
		return c.HeaderByNumber(ctx, number)
	})
}

func (p *EndpointPool) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, p, "balance_at", func(ctx context.Context, c Client) (*big.Int, error) {
		return c.BalanceAt(ctx, account, blockNumber)
	})
}

func (p *EndpointPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, p, "call_contract", func(ctx context.Context, c Client) ([]byte, error) {
		return c.CallContract(ctx, msg, blockNumber)
	})
}

func (p *EndpointPool) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, p, "estimate_gas", func(ctx context.Context, c Client) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
}

func (p *EndpointPool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, p, "suggest_gas_price", func(ctx context.Context, c Client) (*big.Int, error) {
		return c.SuggestGasPrice(ctx)
	})
}

func (p *EndpointPool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, p, "pending_nonce_at", func(ctx context.Context, c Client) (uint64, error) {
		return c.PendingNonceAt(ctx, account)
	})
}

// SendTransaction may reach more than one endpoint; a signed transaction
// has a single hash so duplicates are harmless.
func (p *EndpointPool) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, p, "send_transaction", func(ctx context.Context, c Client) (struct{}, error) {
		return struct{}{}, c.SendTransaction(ctx, tx)
	})
	return err
}

func (p *EndpointPool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, p, "transaction_receipt", func(ctx context.Context, c Client) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, txHash)
	})
}
