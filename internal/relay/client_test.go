package relay

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testTx() *types.Transaction {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return types.NewTx(&types.LegacyTx{Nonce: 3, To: &to, Gas: 60_000, GasPrice: big.NewInt(1)})
}

type capturedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func relayServer(t *testing.T, result string, captured *capturedRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, captured))

		parts := strings.SplitN(r.Header.Get(SignatureHeader), ":", 2)
		require.Len(t, parts, 2)
		sig, err := hexutil.Decode(parts[1])
		require.NoError(t, err)
		digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(body))))
		pub, err := crypto.SigToPub(digest, sig)
		require.NoError(t, err)
		assert.Equal(t, parts[0], crypto.PubkeyToAddress(*pub).Hex())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,` + result + `}`))
	}))
}

func TestClient_SimulateSignsAndParses(t *testing.T) {
	var captured capturedRequest
	server := relayServer(t, `"result":{"bundleHash":"0xabc","results":[{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000001","gasUsed":51234,"revert":"INSUFFICIENT_OUTPUT"}]}`, &captured)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, AuthKey: authKey}, testLogger())
	require.NoError(t, err)

	result, err := client.Simulate(context.Background(), testTx(), 101)
	require.NoError(t, err)

	assert.Equal(t, "eth_callBundle", captured.Method)
	var params callBundleParams
	require.NoError(t, json.Unmarshal(captured.Params[0], &params))
	assert.Equal(t, "0x65", params.BlockNumber)
	assert.Equal(t, "latest", params.StateBlockNumber)
	require.Len(t, params.Txs, 1)

	assert.True(t, result.Reverted())
	assert.Equal(t, "INSUFFICIENT_OUTPUT", result.Reason())
	assert.Equal(t, uint64(51234), result.Results[0].GasUsed)
}

func TestClient_SubmitReturnsTxHash(t *testing.T) {
	var captured capturedRequest
	server := relayServer(t, `"result":{"bundleHash":"0xdef"}`, &captured)
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL}, testLogger())
	require.NoError(t, err)

	tx := testTx()
	hash, err := client.Submit(context.Background(), tx, 200)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, "eth_sendBundle", captured.Method)
}

func TestClient_RelayErrors(t *testing.T) {
	t.Run("json-rpc error", func(t *testing.T) {
		var captured capturedRequest
		server := relayServer(t, `"error":{"code":-32000,"message":"bundle too old"}`, &captured)
		defer server.Close()

		client, err := NewClient(Config{URL: server.URL, AuthKey: authKey}, testLogger())
		require.NoError(t, err)
		_, err = client.Submit(context.Background(), testTx(), 1)
		assert.ErrorIs(t, err, ErrRelay)
		assert.Contains(t, err.Error(), "bundle too old")
	})

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, err := NewClient(Config{URL: server.URL, AuthKey: authKey}, testLogger())
		require.NoError(t, err)
		_, err = client.Simulate(context.Background(), testTx(), 1)
		assert.ErrorIs(t, err, ErrRelay)
		assert.Contains(t, err.Error(), "429")
	})
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, testLogger())
	assert.Error(t, err)

	_, err = NewClient(Config{URL: "http://relay", AuthKey: "not-hex"}, testLogger())
	assert.Error(t, err)
}

func TestSimulated(t *testing.T) {
	sim := NewSimulated()
	tx := testTx()

	result, err := sim.Simulate(context.Background(), tx, 10)
	require.NoError(t, err)
	assert.False(t, result.Reverted())

	sim.RevertReason = "execution reverted"
	result, err = sim.Simulate(context.Background(), tx, 10)
	require.NoError(t, err)
	assert.True(t, result.Reverted())

	hash, err := sim.Submit(context.Background(), tx, 10)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{hash}, sim.Submitted())
}
