package providers

import (
	"context"
	"sync"
)

// CapabilityDescriptor is the static per-back-end descriptor of spec §2
// C1: what a provider supports, its default host, and config fields a
// caller needs to wire it up. Providers consult their own descriptor
// before building a request so unsupported fields are silently dropped
// instead of sent to a back-end that would reject or ignore them.
type CapabilityDescriptor struct {
	Kind              string // "ollama", "openai_compat", "anthropic"
	SupportsThinking  bool
	SupportsTools     bool
	SupportsEmbeddings bool
	SupportsContextAPI bool // context_size option honored
	SupportsResponseFormat bool
	DefaultHost       string
	Warnings          []string // human-readable caveats surfaced by `doctor`
}

// registry of descriptors, keyed by provider Name(). Populated by each
// provider's init() via RegisterCapability, read by FilterRequest.
var (
	capMu       sync.RWMutex
	capRegistry = map[string]CapabilityDescriptor{}
)

// RegisterCapability installs (or replaces) the descriptor for a
// provider kind/name.
func RegisterCapability(name string, desc CapabilityDescriptor) {
	capMu.Lock()
	defer capMu.Unlock()
	capRegistry[name] = desc
}

// CapabilityFor looks up the descriptor for a provider by name, falling
// back to the most permissive descriptor (no fields stripped) if the
// provider never registered — conservative failure would silently drop
// fields a provider actually supports, so the default favors sending
// everything and letting the back-end reject what it can't handle.
func CapabilityFor(name string) CapabilityDescriptor {
	capMu.RLock()
	defer capMu.RUnlock()
	if d, ok := capRegistry[name]; ok {
		return d
	}
	return CapabilityDescriptor{
		Kind: name, SupportsThinking: true, SupportsTools: true,
		SupportsEmbeddings: false, SupportsContextAPI: true, SupportsResponseFormat: true,
	}
}

// FilterRequest strips request options a provider's capability descriptor
// marks unsupported (spec §4.1 "silently ignore enable_thinking,
// context_size, response_format, or tools when unsupported").
func FilterRequest(name string, req ChatRequest) ChatRequest {
	d := CapabilityFor(name)
	if !d.SupportsTools {
		req.Tools = nil
	}
	if req.Options == nil {
		return req
	}
	filtered := make(map[string]interface{}, len(req.Options))
	for k, v := range req.Options {
		switch k {
		case OptThinkingLevel, OptEnableThinking, OptThinkingBudget:
			if !d.SupportsThinking {
				continue
			}
		case OptContextSize:
			if !d.SupportsContextAPI {
				continue
			}
		case OptResponseFormat:
			if !d.SupportsResponseFormat {
				continue
			}
		}
		filtered[k] = v
	}
	req.Options = filtered
	return req
}

// ThinkingCapable is implemented by providers whose back-end can stream
// chain-of-thought tokens. The executor type-asserts for it (spec §4.2)
// rather than threading a bool through every call site.
type ThinkingCapable interface {
	SupportsThinking() bool
}

// EmbeddingCapable is implemented by providers exposing Embed/EmbedBatch
// (spec §4.1, optional per capability).
type EmbeddingCapable interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}
