package models

import "time"

// EndpointStatus is the health of a chain-access endpoint.
type EndpointStatus string

const (
	EndpointOnline  EndpointStatus = "online"
	EndpointOffline EndpointStatus = "offline"
	EndpointPending EndpointStatus = "pending"
)

// RpcEndpoint describes one configured chain-access endpoint.
type RpcEndpoint struct {
	URL       string         `json:"url"`
	LatencyMs *int64         `json:"latency_ms"`
	Status    EndpointStatus `json:"status"`
	IsActive  bool           `json:"is_active"`
	CheckedAt time.Time      `json:"checked_at,omitempty"`
}
