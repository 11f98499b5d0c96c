package engine

import (
	"time"

	"github.com/teranos/factwire/bus/natsbridge"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/ingest"
	"github.com/teranos/factwire/producer"
)

// Status values
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// KnowledgeStatus summarises the store
type KnowledgeStatus struct {
	TotalFacts       int    `json:"total_facts"`
	RecentChanges24h int    `json:"recent_changes_24h"`
	HistoryLength    int    `json:"history_length"`
	Entities         int    `json:"entities"`
	LastSequence     uint64 `json:"last_sequence"`
	JournalErrors    uint64 `json:"journal_errors"`
}

// FirehoseStatus summarises the source catalog
type FirehoseStatus struct {
	SourcesActive int `json:"sources_active"`
	SourcesTotal  int `json:"sources_total"`
}

// Status is a point-in-time engine report
type Status struct {
	Status              string                `json:"status"`
	StartedAt           *time.Time            `json:"started_at,omitempty"`
	UptimeSeconds       float64               `json:"uptime_seconds"`
	KnowledgeGraph      KnowledgeStatus       `json:"knowledge_graph"`
	Firehose            FirehoseStatus        `json:"firehose"`
	Agents              []producer.AgentStats `json:"agents"`
	Subscribers         int                   `json:"subscribers"`
	Ingest              ingest.Stats          `json:"ingest"`
	EscalationThreshold int                   `json:"escalation_threshold"`
	Bridge              *natsbridge.Stats     `json:"nats_bridge,omitempty"`
}

// Status reports engine state. Safe to call at any time.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	startedAt := e.startedAt
	bridge := e.bridge
	e.mu.Unlock()

	st := e.Store.Stats()
	out := Status{
		Status: StatusOffline,
		KnowledgeGraph: KnowledgeStatus{
			TotalFacts:       st.TotalFacts,
			RecentChanges24h: len(e.Store.RecentChanges(24*time.Hour, fact.Trivial)),
			HistoryLength:    st.HistoryLen,
			Entities:         st.Entities,
			LastSequence:     st.LastSequence,
			JournalErrors:    st.JournalErrors,
		},
		Firehose: FirehoseStatus{
			SourcesActive: e.Catalog.Active(),
			SourcesTotal:  len(e.Catalog.Sources()),
		},
		Agents:              e.Scheduler.Stats(),
		Subscribers:         e.Bus.Subscribers(),
		Ingest:              e.Port.Stats(),
		EscalationThreshold: e.Validator.EscalationThreshold(),
	}
	if running {
		out.Status = StatusOnline
		out.StartedAt = &startedAt
		out.UptimeSeconds = e.now().Sub(startedAt).Seconds()
	}
	if bridge != nil {
		bs := bridge.Stats()
		out.Bridge = &bs
	}
	return out
}
