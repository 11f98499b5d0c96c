package server

import (
	"time"

	"github.com/teranos/factwire/engine"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/version"
)

const (
	// DefaultMaxClients is used when server.max_clients is 0
	DefaultMaxClients = 1000

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Maximum size of a POST /api/facts body
	maxBodyBytes = 1 << 20

	// Control replies queued per client
	controlBuffer = 16

	// Recent-changes query bounds
	defaultRecentHours   = 24
	maxRecentHours       = 168
	defaultMinImportance = fact.Minor
	recentUpdatesLimit   = 50
)

// ServerState is the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Message types exchanged on /ws
const (
	MsgConnected  = "connected"
	MsgFactUpdate = "fact_update"
	MsgSubscribe  = "subscribe"
	MsgSubscribed = "subscribed"
	MsgPing       = "ping"
	MsgPong       = "pong"
	MsgError      = "error"
)

// ClientMessage is anything a WebSocket client sends
type ClientMessage struct {
	Type   string `json:"type"`
	Entity string `json:"entity,omitempty"`
}

// ConnectedMessage greets a new WebSocket client
type ConnectedMessage struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
	SubscriptionID string `json:"subscription_id"`
}

// FactUpdateMessage carries one admitted fact. Dropped is the number of
// facts this connection has lost to its buffer so far.
type FactUpdateMessage struct {
	Type    string     `json:"type"`
	Data    *fact.Fact `json:"data"`
	Dropped uint64     `json:"dropped"`
}

// SubscribedMessage acknowledges an entity filter change
type SubscribedMessage struct {
	Type      string `json:"type"`
	Entity    string `json:"entity"`
	Timestamp string `json:"timestamp"`
}

// ControlMessage is a bare typed reply (pong, error)
type ControlMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// FactsResponse is returned by the entity query
type FactsResponse struct {
	Count int          `json:"count"`
	Facts []*fact.Fact `json:"facts"`
}

// RecentResponse is returned by the recent-changes query
type RecentResponse struct {
	Count   int          `json:"count"`
	Hours   int          `json:"hours"`
	Updates []*fact.Fact `json:"updates"`
}

// StatusResponse extends the engine status with server-side details
type StatusResponse struct {
	engine.Status
	Version          version.Info  `json:"version"`
	Process          *ProcessStats `json:"process,omitempty"`
	WebSocketClients int           `json:"websocket_clients"`
	ServerState      string        `json:"server_state"`
}

// ProcessStats reports resource use of the running process
type ProcessStats struct {
	PID             int32   `json:"pid"`
	RSSBytes        uint64  `json:"rss_bytes"`
	VMSBytes        uint64  `json:"vms_bytes"`
	CPUPercent      float64 `json:"cpu_percent"`
	NumThreads      int32   `json:"num_threads"`
	SystemTotal     uint64  `json:"system_memory_total"`
	SystemAvailable uint64  `json:"system_memory_available"`
}
