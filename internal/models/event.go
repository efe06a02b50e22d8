package models

import "time"

// EventType names a broadcast event.
type EventType string

const (
	EventLog           EventType = "log"
	EventStatus        EventType = "status"
	EventRiskTriggered EventType = "risk_triggered"
	EventOpportunities EventType = "opportunities"
	EventTradeComplete EventType = "trade_completed"
	EventRPCStatus     EventType = "rpc_status"
	EventKillSwitch    EventType = "kill_switch"
	EventConfigUpdate  EventType = "config_update"
	EventStats         EventType = "stats"
	EventAdvice        EventType = "advice"
	EventSentiment     EventType = "sentiment"
)

// Event is a single message pushed to subscribers. Data is always a copy.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// BotStatus is the payload of EventStatus.
type BotStatus struct {
	Running        bool      `json:"running"`
	SimulationMode bool      `json:"simulation_mode"`
	Risk           RiskState `json:"risk"`
	Message        string    `json:"message"`
	LastTickAt     time.Time `json:"last_tick_at,omitempty"`
}
