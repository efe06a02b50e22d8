package database

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RiskRecord holds the risk fields that cannot be derived from the ledger.
type RiskRecord struct {
	CooldownUntil    time.Time
	KillSwitchActive bool
	KillSwitchReason string
}

// RedisRiskStore persists RiskRecord as a Redis hash so cooldown and the
// kill switch survive restarts.
type RedisRiskStore struct {
	client *redis.Client
	key    string
}

func NewRedisRiskStore(client *redis.Client, keyPrefix string) *RedisRiskStore {
	return &RedisRiskStore{client: client, key: keyPrefix + "risk:state"}
}

func (s *RedisRiskStore) LoadRisk(ctx context.Context) (RiskRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return RiskRecord{}, fmt.Errorf("failed to load risk state: %w", err)
	}

	var rec RiskRecord
	if v := fields["cooldown_until"]; v != "" {
		nanos, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RiskRecord{}, fmt.Errorf("invalid cooldown_until %q: %w", v, err)
		}
		if nanos > 0 {
			rec.CooldownUntil = time.Unix(0, nanos)
		}
	}
	rec.KillSwitchActive = fields["kill_switch"] == "1"
	rec.KillSwitchReason = fields["kill_switch_reason"]
	return rec, nil
}

func (s *RedisRiskStore) SaveRisk(ctx context.Context, rec RiskRecord) error {
	var cooldown int64
	if !rec.CooldownUntil.IsZero() {
		cooldown = rec.CooldownUntil.UnixNano()
	}
	killSwitch := "0"
	if rec.KillSwitchActive {
		killSwitch = "1"
	}
	err := s.client.HSet(ctx, s.key,
		"cooldown_until", strconv.FormatInt(cooldown, 10),
		"kill_switch", killSwitch,
		"kill_switch_reason", rec.KillSwitchReason,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save risk state: %w", err)
	}
	return nil
}

// MemoryRiskStore keeps RiskRecord in process.
type MemoryRiskStore struct {
	mu  sync.Mutex
	rec RiskRecord
}

func NewMemoryRiskStore() *MemoryRiskStore {
	return &MemoryRiskStore{}
}

func (s *MemoryRiskStore) LoadRisk(context.Context) (RiskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

func (s *MemoryRiskStore) SaveRisk(_ context.Context, rec RiskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	return nil
}
