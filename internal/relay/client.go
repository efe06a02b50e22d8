// Package relay submits single-transaction bundles to a private block
// builder over its JSON-RPC interface (eth_callBundle / eth_sendBundle).
package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// SignatureHeader carries the searcher signature over the request body.
const SignatureHeader = "X-Flashbots-Signature"

// ErrRelay wraps JSON-RPC errors returned by the builder.
var ErrRelay = errors.New("relay error")

// TxResult is the per-transaction outcome of a bundle simulation.
type TxResult struct {
	TxHash  common.Hash `json:"txHash"`
	GasUsed uint64      `json:"gasUsed"`
	Error   string      `json:"error,omitempty"`
	Revert  string      `json:"revert,omitempty"`
}

// SimulationResult is the outcome of eth_callBundle.
type SimulationResult struct {
	BundleHash string     `json:"bundleHash"`
	Results    []TxResult `json:"results"`
}

// Reverted reports whether any transaction in the bundle failed.
func (r *SimulationResult) Reverted() bool {
	for _, tx := range r.Results {
		if tx.Error != "" || tx.Revert != "" {
			return true
		}
	}
	return false
}

// Reason returns the first revert or error message in the bundle.
func (r *SimulationResult) Reason() string {
	for _, tx := range r.Results {
		if tx.Revert != "" {
			return tx.Revert
		}
		if tx.Error != "" {
			return tx.Error
		}
	}
	return ""
}

// Config configures the relay client.
type Config struct {
	URL     string
	AuthKey string
	Timeout time.Duration
}

// Client talks to a builder relay. Requests are signed with a searcher
// identity key that is unrelated to the trading wallet.
type Client struct {
	httpClient *http.Client
	url        string
	authKey    *ecdsa.PrivateKey
	authAddr   common.Address
	nextID     atomic.Uint64
	logger     *logrus.Logger
}

// NewClient creates a relay client. An empty AuthKey generates a throwaway
// searcher identity.
func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var (
		key *ecdsa.PrivateKey
		err error
	)
	if cfg.AuthKey != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.AuthKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid relay auth key: %w", err)
		}
	} else {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate relay auth key: %w", err)
		}
		logger.Warn("No relay auth key configured, using an ephemeral searcher identity")
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		authKey:    key,
		authAddr:   crypto.PubkeyToAddress(key.PublicKey),
		logger:     logger,
	}, nil
}

type callBundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

type sendBundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

// Simulate runs the bundle {tx} against targetBlock.
func (c *Client) Simulate(ctx context.Context, tx *types.Transaction, targetBlock uint64) (*SimulationResult, error) {
	raw, err := encodeTx(tx)
	if err != nil {
		return nil, err
	}
	var result SimulationResult
	err = c.call(ctx, "eth_callBundle", callBundleParams{
		Txs:              []string{raw},
		BlockNumber:      hexutil.EncodeUint64(targetBlock),
		StateBlockNumber: "latest",
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit sends the bundle {tx} for inclusion at targetBlock only and returns
// the transaction hash. Inclusion is not awaited.
func (c *Client) Submit(ctx context.Context, tx *types.Transaction, targetBlock uint64) (common.Hash, error) {
	raw, err := encodeTx(tx)
	if err != nil {
		return common.Hash{}, err
	}
	var result sendBundleResult
	err = c.call(ctx, "eth_sendBundle", sendBundleParams{
		Txs:         []string{raw},
		BlockNumber: hexutil.EncodeUint64(targetBlock),
	}, &result)
	if err != nil {
		return common.Hash{}, err
	}
	c.logger.WithFields(logrus.Fields{
		"bundle_hash":  result.BundleHash,
		"tx_hash":      tx.Hash().Hex(),
		"target_block": targetBlock,
	}).Info("Bundle submitted to relay")
	return tx.Hash(), nil
}

func encodeTx(tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}
	return hexutil.Encode(raw), nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// sign produces "address:signature" over keccak256(body).
func (c *Client) sign(body []byte) (string, error) {
	digest := hexutil.Encode(crypto.Keccak256(body))
	sig, err := crypto.Sign(accounts.TextHash([]byte(digest)), c.authKey)
	if err != nil {
		return "", err
	}
	return c.authAddr.Hex() + ":" + hexutil.Encode(sig), nil
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  []interface{}{params},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	signature, err := c.sign(body)
	if err != nil {
		return fmt.Errorf("failed to sign relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WithError(err).Debug("Error closing relay response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d: %s", ErrRelay, method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%w: %s: %s (code %d)", ErrRelay, method, envelope.Error.Message, envelope.Error.Code)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
	}
	return nil
}
