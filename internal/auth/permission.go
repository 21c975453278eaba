package auth

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrForbidden is returned when an identity is denied a tool call,
// either because the tool is disabled for them or because their
// effective permission lacks the bit the tool's operation class
// requires.
var ErrForbidden = errors.New("auth: forbidden")

// OperationClass is a tool's declared read/write/meta classification,
// determining which permission bit authorizes it.
type OperationClass int

const (
	ReadOnly OperationClass = iota
	Mutating
	Meta
)

// Authorize checks whether ident may invoke a tool of the given
// operation class, looking up the effective (row-then-default)
// permission and auditing any denial.
func (p *Pipeline) Authorize(ctx context.Context, ident *Identity, toolName string, class OperationClass) error {
	perm, err := p.store.GetEffectivePermission(ctx, ident.UserID, toolName)
	if err != nil {
		return err
	}

	allowed := perm.Enabled
	if allowed {
		switch class {
		case ReadOnly:
			allowed = perm.CanRead
		case Mutating:
			allowed = perm.CanWrite
		case Meta:
			allowed = perm.CanExecute
		}
	}

	if !allowed {
		p.auditDenial(ctx, ident, toolName, class)
		return ErrForbidden
	}
	return nil
}

// IsAllowed reports whether ident's effective permission for toolName
// would permit the given operation class, without auditing a denial.
// Used to filter catalogue listings, where an absent tool is not a
// denied call.
func (p *Pipeline) IsAllowed(ctx context.Context, ident *Identity, toolName string, class OperationClass) bool {
	perm, err := p.store.GetEffectivePermission(ctx, ident.UserID, toolName)
	if err != nil || !perm.Enabled {
		return false
	}
	switch class {
	case ReadOnly:
		return perm.CanRead
	case Mutating:
		return perm.CanWrite
	case Meta:
		return perm.CanExecute
	default:
		return false
	}
}

func (p *Pipeline) auditDenial(ctx context.Context, ident *Identity, toolName string, class OperationClass) {
	fields, _ := json.Marshal(map[string]any{
		"user_id":   ident.UserID,
		"tool_name": toolName,
		"class":     classLabel(class),
	})
	_ = p.store.AppendLog(ctx, "WARN", "auth", "tool call denied by permission check", string(fields))
}

func classLabel(c OperationClass) string {
	switch c {
	case ReadOnly:
		return "read"
	case Mutating:
		return "write"
	case Meta:
		return "execute"
	default:
		return "unknown"
	}
}
