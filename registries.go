package autohands

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes one callable capability a Tool exposes to an
// agent turn: a name, a human-readable description, and a JSON-schema
// parameter spec.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolResult is the outcome of one Tool.Execute call.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Tool is the out-of-scope collaborator contract for a single tool
// capability (browser/desktop/filesystem/image/shell implementations are
// collaborators outside this module's scope; this package only fixes the
// shape a ToolRegistry entry must have). Embeds Identifiable so it plugs
// into the generic Registry without an adapter.
type Tool interface {
	Identifiable
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolRegistry holds every registered Tool and dispatches a call to
// whichever Tool declares a matching ToolDefinition.Name.
type ToolRegistry struct {
	reg *Registry[Tool]
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry { return &ToolRegistry{reg: NewRegistry[Tool]()} }

// Register adds t, keyed by its RegistryID.
func (r *ToolRegistry) Register(t Tool) error { return r.reg.Register(t) }

// Unregister removes the tool registered under id.
func (r *ToolRegistry) Unregister(id string) error { return r.reg.Unregister(id) }

// Get returns the tool registered under id.
func (r *ToolRegistry) Get(id string) (Tool, bool) { return r.reg.Get(id) }

// List returns every registered Tool.
func (r *ToolRegistry) List() []Tool { return r.reg.List() }

// Definitions returns the combined ToolDefinitions of every registered
// Tool, the set an agent driver would advertise to a provider.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.reg.List() {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Execute dispatches a call by definition name across every registered
// Tool. A linear scan is fine: tool counts are small and calls are
// dominated by the tool's own work.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, t := range r.reg.List() {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{Error: "unknown tool: " + name}, nil
}

// ProviderRequest is the input to Provider.Complete: a single LLM
// completion call. Concrete provider HTTP clients (OpenAI-compatible,
// Gemini, ...) are out of this module's scope; this fixes only the shape
// the agent:run handler's driver needs to talk to one.
type ProviderRequest struct {
	Prompt  string          `json:"prompt"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProviderResponse is a Provider's completion result.
type ProviderResponse struct {
	Text string `json:"text"`
}

// Provider is the out-of-scope collaborator contract for one LLM
// backend, looked up by id from a ProviderRegistry.
type Provider interface {
	Identifiable
	Complete(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// ProviderRegistry maps a provider id to a live Provider implementation.
type ProviderRegistry struct {
	reg *Registry[Provider]
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry { return &ProviderRegistry{reg: NewRegistry[Provider]()} }

// Register adds p, keyed by its RegistryID.
func (r *ProviderRegistry) Register(p Provider) error { return r.reg.Register(p) }

// Unregister removes the provider registered under id.
func (r *ProviderRegistry) Unregister(id string) error { return r.reg.Unregister(id) }

// Get returns the provider registered under id.
func (r *ProviderRegistry) Get(id string) (Provider, bool) { return r.reg.Get(id) }

// List returns every registered Provider.
func (r *ProviderRegistry) List() []Provider { return r.reg.List() }

// Memory is the out-of-scope collaborator contract for a memory backend
// (conversation history, user facts, vector recall, ...). Concrete
// storage formats are outside this module's scope; this fixes only the
// shape an extension registers under a MemoryRegistry entry.
type Memory interface {
	Identifiable
	Remember(ctx context.Context, key string, value json.RawMessage) error
	Recall(ctx context.Context, key string) (json.RawMessage, error)
}

// MemoryRegistry maps a memory backend id to a live Memory implementation.
type MemoryRegistry struct {
	reg *Registry[Memory]
}

// NewMemoryRegistry creates an empty memory registry.
func NewMemoryRegistry() *MemoryRegistry { return &MemoryRegistry{reg: NewRegistry[Memory]()} }

// Register adds m, keyed by its RegistryID.
func (r *MemoryRegistry) Register(m Memory) error { return r.reg.Register(m) }

// Unregister removes the memory backend registered under id.
func (r *MemoryRegistry) Unregister(id string) error { return r.reg.Unregister(id) }

// Get returns the memory backend registered under id.
func (r *MemoryRegistry) Get(id string) (Memory, bool) { return r.reg.Get(id) }

// List returns every registered Memory backend.
func (r *MemoryRegistry) List() []Memory { return r.reg.List() }
