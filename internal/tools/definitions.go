package tools

import (
	"fmt"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/upstream"
)

// upstreamFor is resolved per-call by the dispatcher (it depends on
// the caller's default/selected HubConfig, decrypted per-call), so
// each handler below takes it from the CallRequest's Context rather
// than holding a shared client.
func upstreamFor(ctx *Context) *upstream.Client {
	timeout := ctx.HubTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return upstream.New(ctx.HubURL, ctx.HubToken, timeout)
}

// Definitions returns the gateway's built-in tool catalogue. Callers
// register these (and any others) into a Registry at bootstrap.
func Definitions() []Definition {
	return []Definition{
		{
			Name:            "get_entities",
			Description:     "List entities known to the hub, optionally filtered by domain or area.",
			Class:           auth.ReadOnly,
			CacheTTLSeconds: 15,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"domain": map[string]any{"type": "string"},
					"area":   map[string]any{"type": "string"},
				},
			},
			Handler: handleGetEntities,
		},
		{
			Name:        "call_service",
			Description: "Invoke a service call against one or more entities (e.g. turning a light on).",
			Class:       auth.Mutating,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"domain", "service", "entity_id"},
				"properties": map[string]any{
					"domain":    map[string]any{"type": "string"},
					"service":   map[string]any{"type": "string"},
					"entity_id": map[string]any{"type": "string"},
					"data":      map[string]any{"type": "object"},
				},
			},
			Handler: handleCallService,
		},
		{
			Name:            "get_history",
			Description:     "Fetch state history for an entity over a time window.",
			Class:           auth.ReadOnly,
			CacheTTLSeconds: 30,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"entity_id"},
				"properties": map[string]any{
					"entity_id": map[string]any{"type": "string"},
					"since":     map[string]any{"type": "string"},
				},
			},
			Handler: handleGetHistory,
		},
		{
			Name:            "list_areas",
			Description:     "List the hub's configured areas/rooms.",
			Class:           auth.ReadOnly,
			CacheTTLSeconds: 60,
			InputSchema:     map[string]any{"type": "object", "properties": map[string]any{}},
			Handler:         handleListAreas,
		},
		{
			Name:            "get_config",
			Description:     "Fetch the hub's own configuration/version metadata.",
			Class:           auth.ReadOnly,
			CacheTTLSeconds: 60,
			InputSchema:     map[string]any{"type": "object", "properties": map[string]any{}},
			Handler:         handleGetConfig,
		},
		{
			Name:        "fire_event",
			Description: "Fire a custom event on the hub's event bus (automation trigger, meta-operation).",
			Class:       auth.Meta,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"event_type"},
				"properties": map[string]any{
					"event_type": map[string]any{"type": "string"},
					"data":       map[string]any{"type": "object"},
				},
			},
			Handler: handleFireEvent,
		},
	}
}

func handleGetEntities(req *CallRequest) (*CallResult, error) {
	var out []map[string]any
	if err := upstreamFor(req.Context).Call(req.Context, "GET", "/api/states", nil, &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	return textResult(fmt.Sprintf("%d entities", len(out))), nil
}

func handleCallService(req *CallRequest) (*CallResult, error) {
	domain, _ := req.Arguments["domain"].(string)
	service, _ := req.Arguments["service"].(string)
	if domain == "" || service == "" {
		return nil, NewToolError(ErrInvalidArgument, "domain and service are required")
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	var out any
	if err := upstreamFor(req.Context).Call(req.Context, "POST", path, req.Arguments, &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	return textResult("service call accepted"), nil
}

func handleGetHistory(req *CallRequest) (*CallResult, error) {
	entityID, _ := req.Arguments["entity_id"].(string)
	if entityID == "" {
		return nil, NewToolError(ErrInvalidArgument, "entity_id is required")
	}
	var out []map[string]any
	path := fmt.Sprintf("/api/history/period?filter_entity_id=%s", entityID)
	if err := upstreamFor(req.Context).Call(req.Context, "GET", path, nil, &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	return textResult(fmt.Sprintf("%d history points", len(out))), nil
}

func handleListAreas(req *CallRequest) (*CallResult, error) {
	var out []map[string]any
	if err := upstreamFor(req.Context).Call(req.Context, "GET", "/api/config/area_registry/list", nil, &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	return textResult(fmt.Sprintf("%d areas", len(out))), nil
}

func handleGetConfig(req *CallRequest) (*CallResult, error) {
	var out map[string]any
	if err := upstreamFor(req.Context).Call(req.Context, "GET", "/api/config", nil, &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	version, _ := out["version"].(string)
	return textResult("hub version " + version), nil
}

func handleFireEvent(req *CallRequest) (*CallResult, error) {
	eventType, _ := req.Arguments["event_type"].(string)
	if eventType == "" {
		return nil, NewToolError(ErrInvalidArgument, "event_type is required")
	}
	path := fmt.Sprintf("/api/events/%s", eventType)
	var out any
	if err := upstreamFor(req.Context).Call(req.Context, "POST", path, req.Arguments["data"], &out); err != nil {
		return nil, NewToolError(ErrUpstreamError, err.Error())
	}
	return textResult("event fired"), nil
}

func textResult(s string) *CallResult {
	return &CallResult{Content: []ContentBlock{{Type: "text", Text: s}}}
}
