package relay

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Simulated is the relay used in simulation mode. Bundles never leave the
// process; simulation succeeds unless RevertReason is set.
type Simulated struct {
	RevertReason string
	GasUsed      uint64

	mu        sync.Mutex
	submitted []common.Hash
}

func NewSimulated() *Simulated {
	return &Simulated{GasUsed: 50_000}
}

func (s *Simulated) Simulate(_ context.Context, tx *types.Transaction, _ uint64) (*SimulationResult, error) {
	return &SimulationResult{
		BundleHash: tx.Hash().Hex(),
		Results: []TxResult{{
			TxHash:  tx.Hash(),
			GasUsed: s.GasUsed,
			Revert:  s.RevertReason,
		}},
	}, nil
}

func (s *Simulated) Submit(_ context.Context, tx *types.Transaction, _ uint64) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, tx.Hash())
	return tx.Hash(), nil
}

// Submitted lists the hashes passed to Submit.
func (s *Simulated) Submitted() []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]common.Hash(nil), s.submitted...)
}
