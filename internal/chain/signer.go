package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is the single signing identity of the bot.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewWallet parses a hex private key, with or without 0x prefix.
func NewWallet(hexKey string, chainID int64) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(chainID)),
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// Sign signs tx for the configured chain.
func (w *Wallet) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
