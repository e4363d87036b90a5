package events

import (
	"time"
)

// EventType identifies the kind of hub event.
type EventType string

const (
	// EventServerStatus reports an upstream server state transition.
	EventServerStatus EventType = "server_status"

	// EventToolExecution reports a completed tool call, success or failure.
	EventToolExecution EventType = "tool_execution"

	// EventSystemAlert reports a hub-level condition needing attention.
	EventSystemAlert EventType = "system_alert"

	// EventActivity reports general client activity.
	EventActivity EventType = "activity"

	// EventHealthCheck reports a periodic health summary.
	EventHealthCheck EventType = "health_check"

	// EventPing is the keepalive sent to subscribers.
	EventPing EventType = "ping"
)

// Event is the tagged variant pushed to subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ServerStatusData is the payload of a server_status event.
type ServerStatusData struct {
	ServerName string `json:"serverName"`
	OldState   string `json:"oldState"`
	NewState   string `json:"newState"`
	Error      string `json:"error,omitempty"`
}

// ToolExecutionData is the payload of a tool_execution event.
type ToolExecutionData struct {
	ToolName   string `json:"toolName"`
	ServerName string `json:"serverName"`
	GroupID    string `json:"groupId"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// HealthCheckData is the payload of a health_check event.
type HealthCheckData struct {
	Status           string `json:"status"`
	ServersTotal     int    `json:"serversTotal"`
	ServersConnected int    `json:"serversConnected"`
}

// SystemAlertData is the payload of a system_alert event.
type SystemAlertData struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}
