package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/copilot-cli/copilot/internal/apperr"
)

// Decision is the user's answer to an ask prompt.
type Decision struct {
	Approved bool
	Remember bool // persist as a session grant for (tool, scope)
}

// AskFunc prompts the user for a tool invocation the static policy
// didn't auto-resolve. cmd/repl.go wires this to consoleAsk, a one-line
// stdin prompt; tests wire it to a canned answer.
type AskFunc func(ctx context.Context, tool ToolMetadata, scope Scope) (Decision, error)

// PathPolicy is a per-tool allow/deny glob policy evaluated against a
// tool invocation's Scope. Deny takes precedence over allow: a scope
// matching both is denied (spec §4.3 "deny-before-allow precedence").
type PathPolicy struct {
	Allow []string
	Deny  []string
}

// grantKey identifies a session grant. Per spec §4.3, a grant is scoped
// to the tool name and the scope value observed at the moment the user
// first approved it — later calls with a *different* scope for the same
// tool are not covered by an earlier grant, even within the same
// session, so approving "read_file" on one path never silently approves
// it on another.
type grantKey struct {
	Tool  string
	Scope Scope
}

// PermissionManager is the interactive, risk-based authorization layer
// for the main conversation's tool dispatch (spec §4.3). It sits after
// PolicyEngine.FilterTools has already restricted which tools the model
// may even request; this layer decides, per invocation, whether that
// request executes without asking, needs to ask, or is denied outright.
// Sub-agents bypass this layer entirely (spec §4.2): their capability
// mask is their only gate.
type PermissionManager struct {
	mu           sync.Mutex
	pathPolicies map[string]PathPolicy
	grants       map[grantKey]bool
	ask          AskFunc
	audit        *AuditLog
}

func NewPermissionManager(ask AskFunc, audit *AuditLog) *PermissionManager {
	return &PermissionManager{
		pathPolicies: make(map[string]PathPolicy),
		grants:       make(map[grantKey]bool),
		ask:          ask,
		audit:        audit,
	}
}

// SetPathPolicy installs the allow/deny glob policy for a tool name.
func (m *PermissionManager) SetPathPolicy(tool string, policy PathPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathPolicies[tool] = policy
}

// Authorize decides whether a tool invocation may proceed. It returns
// apperr.KindPermissionDenied if the user (or a deny policy) refuses.
func (m *PermissionManager) Authorize(ctx context.Context, md ToolMetadata, scope Scope) error {
	m.mu.Lock()
	policy, hasPolicy := m.pathPolicies[md.Name]
	m.mu.Unlock()

	// Deny-before-allow: a scope matching a deny pattern is refused
	// regardless of risk level or any allow pattern.
	if hasPolicy && scope != "" && matchAny(policy.Deny, scope) {
		m.record(md, scope, "denied_by_policy")
		return apperr.New(apperr.KindPermissionDenied, fmt.Sprintf("%s: %s is denied by policy", md.Name, scope))
	}

	if md.Risk == RiskSafe {
		m.record(md, scope, "auto_approved")
		return nil
	}

	if hasPolicy && scope != "" && matchAny(policy.Allow, scope) {
		m.record(md, scope, "auto_approved")
		return nil
	}

	key := grantKey{Tool: md.Name, Scope: scope}
	m.mu.Lock()
	granted := m.grants[key]
	m.mu.Unlock()
	if granted {
		m.record(md, scope, "auto_approved")
		return nil
	}

	if m.ask == nil {
		// No interactive surface wired (e.g. headless/cron invocation):
		// critical and sensitive tools fail closed. There's no user to
		// deny the call, so this is a policy-level denial (the effective
		// policy, absent any prompt surface, is "deny").
		m.record(md, scope, "denied_by_policy")
		return apperr.New(apperr.KindPermissionDenied, fmt.Sprintf("%s requires approval but no prompt is available", md.Name))
	}

	decision, err := m.ask(ctx, md, scope)
	if err != nil {
		return fmt.Errorf("permission prompt: %w", err)
	}

	if !decision.Approved {
		m.record(md, scope, "denied_by_user")
		return apperr.New(apperr.KindPermissionDenied, fmt.Sprintf("%s: user denied", md.Name))
	}

	if decision.Remember {
		m.mu.Lock()
		m.grants[key] = true
		m.mu.Unlock()
	}

	m.record(md, scope, "user_approved")
	return nil
}

// RecordFailedValidation logs a failed_validation audit event for a tool
// call that never reached execution — either the tool name is unknown to
// the registry, or its arguments didn't satisfy its declared JSON Schema.
// Spec: "a tool call whose tool name is unknown to the registry must
// produce a failed_validation audit event and no tool execution."
func (m *PermissionManager) RecordFailedValidation(toolName string, scope Scope) {
	if m.audit == nil {
		return
	}
	m.audit.Record(AuditEntry{Tool: toolName, Scope: scope, Decision: "failed_validation"})
}

func (m *PermissionManager) record(md ToolMetadata, scope Scope, decision string) {
	if m.audit == nil {
		return
	}
	m.audit.Record(AuditEntry{
		Tool:     md.Name,
		Scope:    scope,
		Decision: decision,
		Risk:     md.Risk.String(),
	})
}

// Reset clears all session grants (used when a new conversation starts).
func (m *PermissionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = make(map[grantKey]bool)
}
