package services

import (
	"context"
	"fmt"
	"time"
)

// Operation types with their own deadline.
const (
	OpChainRead    = "chain_read"
	OpReceipt      = "receipt"
	OpScorer       = "scorer"
	OpRelay        = "relay"
	OpStore        = "store"
	OpBalanceProbe = "balance_probe"
	OpAdvisory     = "advisory"
)

// TimeoutConfig defines timeout settings for different operation types
type TimeoutConfig struct {
	ChainRead    time.Duration
	Receipt      time.Duration
	Scorer       time.Duration
	Relay        time.Duration
	Store        time.Duration
	BalanceProbe time.Duration
	Advisory     time.Duration
}

// DefaultTimeoutConfig returns default timeout configuration
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		ChainRead:    10 * time.Second,
		Receipt:      120 * time.Second,
		Scorer:       30 * time.Second,
		Relay:        10 * time.Second,
		Store:        5 * time.Second,
		BalanceProbe: 10 * time.Second,
		Advisory:     60 * time.Second,
	}
}

// TimeoutManager hands out bounded contexts per operation type. Every
// external call in the control loop goes through it.
type TimeoutManager struct {
	config         TimeoutConfig
	defaultTimeout time.Duration
}

// NewTimeoutManager fills zero entries of config from the defaults.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	def := DefaultTimeoutConfig()
	fill := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&config.ChainRead, def.ChainRead)
	fill(&config.Receipt, def.Receipt)
	fill(&config.Scorer, def.Scorer)
	fill(&config.Relay, def.Relay)
	fill(&config.Store, def.Store)
	fill(&config.BalanceProbe, def.BalanceProbe)
	fill(&config.Advisory, def.Advisory)

	return &TimeoutManager{config: config, defaultTimeout: 30 * time.Second}
}

func (tm *TimeoutManager) getTimeoutForOperation(operationType string) time.Duration {
	switch operationType {
	case OpChainRead:
		return tm.config.ChainRead
	case OpReceipt:
		return tm.config.Receipt
	case OpScorer:
		return tm.config.Scorer
	case OpRelay:
		return tm.config.Relay
	case OpStore:
		return tm.config.Store
	case OpBalanceProbe:
		return tm.config.BalanceProbe
	case OpAdvisory:
		return tm.config.Advisory
	default:
		return tm.defaultTimeout
	}
}

// WithTimeout derives a context bounded by the operation's timeout.
func (tm *TimeoutManager) WithTimeout(parent context.Context, operationType string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tm.getTimeoutForOperation(operationType))
}

// ExecuteWithTimeout runs fn under the operation's deadline. A deadline hit
// is reported as a timeout error naming the operation.
func (tm *TimeoutManager) ExecuteWithTimeout(parent context.Context, operationType string, fn func(context.Context) error) error {
	ctx, cancel := tm.WithTimeout(parent, operationType)
	defer cancel()

	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return fmt.Errorf("%s timed out after %v: %w", operationType, tm.getTimeoutForOperation(operationType), err)
	}
	return err
}
