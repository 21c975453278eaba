package bridgeapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
	"github.com/hubbridge/mcp-gateway/internal/queue"
	"github.com/hubbridge/mcp-gateway/internal/tools"
	"github.com/rs/zerolog/log"
)

const supportedProtocolVersion = "2025-03-26"

// MCPInitialize answers the MCP handshake with the gateway's
// capabilities and allocates the client-scoped session handle the
// caller must thread through subsequent /mcp/tools/* requests via
// X-Session-ID.
func (s *Server) MCPInitialize(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if !decodeRPCRequest(w, r, &req) {
		return
	}
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		sendProtocolError(w, http.StatusUnauthorized, req.ID, rpcInvalidRequest, "missing identity")
		return
	}
	sessionID := s.clientSessions.Allocate(ident.UserID)
	result := map[string]any{
		"protocolVersion": supportedProtocolVersion,
		"session_id":      sessionID,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": "home-hub-bridge", "version": "1.0.0"},
	}
	sendResult(w, req.ID, result, nil)
}

// requireClientSession validates the X-Session-ID header against the
// sessions issued by MCPInitialize, writing the error response itself
// when the header is missing or stale.
func (s *Server) requireClientSession(w http.ResponseWriter, r *http.Request, id json.RawMessage, ident *auth.Identity) (string, bool) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sendToolError(w, id, tools.ErrMalformed, "missing X-Session-ID header; call /mcp/initialize first", nil)
		return "", false
	}
	if !s.clientSessions.Validate(sessionID, ident.UserID) {
		sendToolError(w, id, tools.ErrNotFound, "unknown or expired session id; call /mcp/initialize again", nil)
		return "", false
	}
	return sessionID, true
}

// MCPToolsList returns the catalogue of tools registered with the
// gateway, filtered down to those the caller's effective permissions
// enable, with their JSON schemas.
func (s *Server) MCPToolsList(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if !decodeRPCRequest(w, r, &req) {
		return
	}
	ident, ok := auth.FromContext(r.Context())
	if !ok {
		sendProtocolError(w, http.StatusUnauthorized, req.ID, rpcInvalidRequest, "missing identity")
		return
	}
	if _, ok := s.requireClientSession(w, r, req.ID, ident); !ok {
		return
	}
	defs := s.registry.List()
	descriptors := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		if !s.authz.IsAllowed(r.Context(), ident, d.Name, d.Class) {
			continue
		}
		descriptors = append(descriptors, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.InputSchema,
		})
	}
	sendResult(w, req.ID, map[string]any{"tools": descriptors}, nil)
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// MCPToolsCall takes the caller's identity set by the auth middleware,
// requires a valid client session, then dispatches the named tool call
// through the authorization/queue/pool/cache/breaker pipeline,
// honouring the X-Priority and X-Timeout headers and the hub_config_id
// query parameter.
func (s *Server) MCPToolsCall(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if !decodeRPCRequest(w, r, &req) {
		return
	}
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			sendProtocolError(w, http.StatusBadRequest, req.ID, rpcInvalidParams, "invalid tool call parameters")
			return
		}
	}
	if params.Name == "" {
		sendProtocolError(w, http.StatusBadRequest, req.ID, rpcInvalidParams, "missing tool name")
		return
	}

	ident, ok := auth.FromContext(r.Context())
	if !ok {
		sendProtocolError(w, http.StatusUnauthorized, req.ID, rpcInvalidRequest, "missing identity")
		return
	}
	sessionID, ok := s.requireClientSession(w, r, req.ID, ident)
	if !ok {
		return
	}

	dispatchReq := &DispatchRequest{
		Identity:        ident,
		ToolName:        params.Name,
		Arguments:       params.Arguments,
		Priority:        parsePriority(r.Header.Get("X-Priority")),
		HubConfigID:     r.URL.Query().Get("hub_config_id"),
		ClientSessionID: sessionID,
		RequestID:       correlationID(r.Context()),
		QueueDeadline:   parseTimeoutHeader(r.Header.Get("X-Timeout")),
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), dispatchReq)
	if err != nil {
		toolErr, ok := err.(*tools.ToolError)
		if !ok {
			log.Error().Err(err).Str("tool", params.Name).Msg("unexpected dispatch error")
			sendToolError(w, req.ID, tools.ErrInternalError, err.Error(), nil)
			return
		}
		sendToolError(w, req.ID, toolErr.Code, toolErr.Message, toolErr.Data)
		return
	}
	info := outcome.Info
	sendResult(w, req.ID, outcome.Result, &info)
}

// MCPStatus reports the gateway's own health signals: queue depth and
// pool size. Per-hub breaker states are not included.
func (s *Server) MCPStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_depth": s.queue.Len(),
		"pool_size":   s.pool.Size(),
	})
}

func decodeRPCRequest(w http.ResponseWriter, r *http.Request, req *JSONRPCRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		sendProtocolError(w, http.StatusBadRequest, nil, rpcParseError, "invalid JSON")
		return false
	}
	if req.JSONRPC != "2.0" {
		sendProtocolError(w, http.StatusBadRequest, req.ID, rpcInvalidRequest, "invalid jsonrpc version")
		return false
	}
	return true
}

func parsePriority(header string) queue.Priority {
	switch header {
	case "CRITICAL":
		return queue.Critical
	case "HIGH":
		return queue.High
	case "LOW":
		return queue.Low
	default:
		return queue.Medium
	}
}

// parseTimeoutHeader reads X-Timeout as integer seconds. Zero means
// "use the default"; the dispatcher clamps anything above the
// configured ceiling.
func parseTimeoutHeader(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
