// Package mcp exposes the fact store to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/teranos/factwire/engine"
	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/version"
)

const (
	serverName = "factwire"

	defaultHours         = 24
	maxHours             = 168
	defaultMinImportance = int(fact.Minor)
	recentLimit          = 50
)

// MCPServer wraps the engine and exposes it via Model Context Protocol
type MCPServer struct {
	engine *engine.Engine
	server *server.MCPServer
	logger *zap.SugaredLogger
}

// NewMCPServer registers the fact tools against e
func NewMCPServer(e *engine.Engine, logger *zap.SugaredLogger) (*MCPServer, error) {
	if e == nil {
		return nil, errors.NewInvalidRequestError("mcp server needs an engine")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &MCPServer{
		engine: e,
		logger: logger,
		server: server.NewMCPServer(
			serverName,
			version.Get().Short(),
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdin/stdout until the client disconnects
func (s *MCPServer) Serve() error {
	if s == nil || s.server == nil {
		return errors.New("MCP server is not configured")
	}
	if err := server.ServeStdio(s.server); err != nil {
		return errors.Wrap(err, "serve MCP")
	}
	return nil
}

func (s *MCPServer) registerTools() {
	s.server.AddTool(mcp.NewTool("current_value",
		mcp.WithDescription("Get the current fact for one entity field"),
		mcp.WithString("entity_type", mcp.Required(), mcp.Description("Entity type, e.g. coverage or price")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity id, e.g. ozempic:aetna_comm")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Field name, e.g. formulary_tier")),
	), s.handleCurrentValue)

	s.server.AddTool(mcp.NewTool("facts_for_entity",
		mcp.WithDescription("List every current fact of an entity, ordered by field"),
		mcp.WithString("entity_type", mcp.Required(), mcp.Description("Entity type")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity id")),
	), s.handleFactsForEntity)

	s.server.AddTool(mcp.NewTool("recent_changes",
		mcp.WithDescription("List recent fact changes, newest first"),
		mcp.WithNumber("hours",
			mcp.Description("Look-back window in hours (1-168, default 24)"),
			mcp.DefaultNumber(defaultHours),
		),
		mcp.WithNumber("min_importance",
			mcp.Description("Minimum importance 1-10 (default 3)"),
			mcp.DefaultNumber(float64(defaultMinImportance)),
		),
	), s.handleRecentChanges)

	s.server.AddTool(mcp.NewTool("submit_fact",
		mcp.WithDescription("Submit an observed value; it is admitted only if it changes the current fact"),
		mcp.WithString("entity_type", mcp.Required(), mcp.Description("Entity type")),
		mcp.WithString("entity_id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Field name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Observed value; JSON is decoded, anything else is a string")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Where the value was observed")),
		mcp.WithString("source_url", mcp.Description("Link to the source document")),
		mcp.WithString("verified_by", mcp.Description("Who verified the value")),
		mcp.WithString("effective_date", mcp.Description("RFC 3339 or YYYY-MM-DD")),
	), s.handleSubmitFact)
}

func (s *MCPServer) handleCurrentValue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityType, entityID, err := requireEntity(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	field, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f, err := s.engine.Store.CurrentValue(entityType, entityID, field)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("lookup failed", err), nil
	}
	return jsonResult(f)
}

func (s *MCPServer) handleFactsForEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityType, entityID, err := requireEntity(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	facts := s.engine.Store.FactsForEntity(entityType, entityID)
	if facts == nil {
		facts = []*fact.Fact{}
	}
	return jsonResult(map[string]interface{}{"count": len(facts), "facts": facts})
}

func (s *MCPServer) handleRecentChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hours := request.GetInt("hours", defaultHours)
	if hours < 1 || hours > maxHours {
		return mcp.NewToolResultError(fmt.Sprintf("hours must be in 1..%d, got %d", maxHours, hours)), nil
	}
	minImportance := fact.Importance(request.GetInt("min_importance", defaultMinImportance))
	if !minImportance.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("min_importance must be in 1..10, got %d", int(minImportance))), nil
	}

	updates := s.engine.Store.RecentChanges(time.Duration(hours)*time.Hour, minImportance)
	count := len(updates)
	if len(updates) > recentLimit {
		updates = updates[:recentLimit]
	}
	if updates == nil {
		updates = []*fact.Fact{}
	}
	return jsonResult(map[string]interface{}{"count": count, "hours": hours, "updates": updates})
}

func (s *MCPServer) handleSubmitFact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityType, entityID, err := requireEntity(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	field, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cand := fact.Candidate{
		EntityType: entityType,
		EntityID:   entityID,
		Field:      field,
		Value:      argValue(request.GetArguments()["value"]),
		Source:     source,
		SourceURL:  request.GetString("source_url", ""),
		VerifiedBy: request.GetString("verified_by", ""),
	}
	if raw := request.GetString("effective_date", ""); raw != "" {
		d, err := fact.ParseDate(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		cand.EffectiveDate = &d
	}

	res, err := s.engine.Port.Submit(ctx, cand)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("submission rejected", err), nil
	}
	s.logger.Debugw("MCP submission", "fact_key", cand.Key().String(), "admitted", res.Admitted)
	return jsonResult(res)
}

func requireEntity(request mcp.CallToolRequest) (string, string, error) {
	entityType, err := request.RequireString("entity_type")
	if err != nil {
		return "", "", err
	}
	entityID, err := request.RequireString("entity_id")
	if err != nil {
		return "", "", err
	}
	return entityType, entityID, nil
}

// argValue accepts value either as a JSON literal in a string or as an
// already-typed argument
func argValue(raw interface{}) interface{} {
	if s, ok := raw.(string); ok {
		return fact.ParseLiteral(s)
	}
	return raw
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool result")
	}
	return mcp.NewToolResultText(string(data)), nil
}
