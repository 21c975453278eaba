package tools

import (
	"context"
	"time"

	"github.com/hubbridge/mcp-gateway/internal/auth"
)

// ContentBlock is one piece of a tool call's result, mirroring MCP's
// content-block shape (currently only text results are produced).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallRequest is the normalized input to a tool Handler, already
// past auth/authorization/cache lookup.
type CallRequest struct {
	Context   *Context
	Arguments map[string]any
}

// CallResult is a tool Handler's successful output.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// Context carries per-call identity, hub credentials, and cancellation
// into a Handler, insulating tool implementations from the HTTP layer.
// HubToken is the decrypted credential, valid only for this call.
type Context struct {
	context.Context
	Identity   *auth.Identity
	HubURL     string
	HubToken   string
	HubTimeout time.Duration
}

// Handler executes one tool call against the upstream hub.
type Handler func(req *CallRequest) (*CallResult, error)

// Definition describes one registered tool: its name, JSON schema,
// operation class (determining the permission bit required), cache
// eligibility, and handler.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Class       auth.OperationClass
	// CacheTTLSeconds is 0 for non-cacheable (mutating/meta) tools.
	CacheTTLSeconds int
	Handler         Handler
}

// Cacheable reports whether successful results of this tool may be
// served from the fingerprint cache.
func (d Definition) Cacheable() bool {
	return d.Class == auth.ReadOnly && d.CacheTTLSeconds > 0
}
