// Package bridgeapi is the chi-routed HTTP surface that exposes MCP
// tool invocation, session/auth routes, and hub config management to
// remote clients, dispatching tool calls through the queue, session
// pool, cache, and circuit breaker.
package bridgeapi

import (
	"encoding/json"
	"net/http"

	"github.com/hubbridge/mcp-gateway/internal/tools"
	"github.com/rs/zerolog/log"
)

// JSON-RPC 2.0 standard error codes, plus the method-not-found/invalid
// params codes the dispatcher emits directly.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

// JSONRPCRequest is one JSON-RPC 2.0 call.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// IsNotification reports whether the request carries no id (and so
// expects no response).
func (r JSONRPCRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// JSONRPCError is the "error" member of a JSON-RPC response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BridgeInfo is a non-protocol telemetry object attached to successful
// tools/call responses (error responses carry none), surfacing dispatch metadata that isn't part of
// the MCP wire format but that operators and clients find useful for
// diagnosing latency and cache behavior. Cached and execution time are
// always present so clients can branch on them without a null check.
type BridgeInfo struct {
	SessionID       string `json:"session_id,omitempty"`
	Priority        string `json:"priority,omitempty"`
	QueueWaitMs     int    `json:"queue_wait_ms"`
	ExecutionTimeMs int    `json:"execution_time_ms"`
	Cached          bool   `json:"cached"`
	BreakerState    string `json:"breaker_state,omitempty"`
}

// JSONRPCResponse is one JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC    string          `json:"jsonrpc"`
	ID         json.RawMessage `json:"id"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *JSONRPCError   `json:"error,omitempty"`
	BridgeInfo *BridgeInfo     `json:"bridge_info,omitempty"`
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("bridgeapi: failed to marshal result")
		return json.RawMessage("null")
	}
	return data
}

// sendResult writes a successful JSON-RPC response with HTTP 200.
func sendResult(w http.ResponseWriter, id json.RawMessage, result any, info *BridgeInfo) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: mustMarshal(result), BridgeInfo: info}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("bridgeapi: failed to write result response")
	}
}

// sendToolError writes a JSON-RPC error response whose HTTP status
// follows the tool error's taxonomy, not JSON-RPC's fixed 200.
func sendToolError(w http.ResponseWriter, id json.RawMessage, code tools.ErrorCode, message string, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	errObj := &JSONRPCError{Code: code.JSONRPCErrorCode(), Message: message}
	if data != nil {
		errObj.Data = mustMarshal(data)
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: errObj}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("bridgeapi: failed to write error response")
	}
}

// sendProtocolError writes a JSON-RPC transport-level error (bad
// envelope, unknown method) — these stay HTTP 400/404 rather than 200
// so proxies and load balancers can distinguish them from tool errors.
func sendProtocolError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("bridgeapi: failed to write protocol error response")
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("bridgeapi: failed to encode json response")
	}
}

func writeError(r *http.Request, w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, CorrelationID: correlationID(r.Context())})
}
