// ABOUTME: Common handler interface and registry for the diagram execution engine.
// ABOUTME: All 11 built-in node handlers implement NodeHandler and are registered via DefaultHandlerRegistry.
package engine

import (
	"context"
)

// NodeHandler is the interface that all node handlers implement.
// The scheduler dispatches to the appropriate handler based on node type.
type NodeHandler interface {
	// Type returns the node type this handler serves.
	Type() NodeType

	// RequiredServices names the service registry entries the handler
	// needs; missing ones fail the node before Execute runs.
	RequiredServices() []string

	// Execute runs the handler logic for the given node.
	// ctx is the Go context for cancellation/timeout.
	// node is the compiled node with its typed config.
	// view is the read-only execution context.
	// inputs is the resolved input set.
	// services is the wired service registry.
	// Handlers never mutate execution state; staged writes travel on
	// the returned envelope's metadata.
	Execute(ctx context.Context, node *ExecutableNode, view *ContextView, inputs *ResolvedInputs, services *Services) (*Envelope, error)
}

// Service registry keys used in RequiredServices declarations.
const (
	ServiceLLM          = "llm"
	ServiceConversation = "conversation"
	ServiceFile         = "file"
	ServiceTemplate     = "template"
	ServiceAPIKey       = "api_key"
	ServiceInterviewer  = "interviewer"
	ServiceNotion       = "notion"
)

// HandlerRegistry maps node types to handler instances.
type HandlerRegistry struct {
	handlers map[NodeType]NodeHandler
}

// NewHandlerRegistry creates a new empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[NodeType]NodeHandler),
	}
}

// Register adds a handler to the registry, keyed by its Type().
// Registering for an already-registered type replaces the previous handler.
func (r *HandlerRegistry) Register(handler NodeHandler) {
	r.handlers[handler.Type()] = handler
}

// Get returns the handler registered for the given node type, or nil if
// not found.
func (r *HandlerRegistry) Get(t NodeType) NodeHandler {
	return r.handlers[t]
}

// DefaultHandlerRegistry creates a registry with all built-in handlers
// registered.
func DefaultHandlerRegistry() *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register(&StartHandler{})
	reg.Register(&EndHandler{})
	reg.Register(&PersonJobHandler{})
	reg.Register(&ConditionHandler{})
	reg.Register(&CodeJobHandler{})
	reg.Register(&APIJobHandler{})
	reg.Register(&DBHandler{})
	reg.Register(&HookHandler{})
	reg.Register(&UserResponseHandler{})
	reg.Register(&NotionHandler{})
	reg.Register(&BatchHandler{})
	return reg
}

// hasService reports whether the named service is wired in the registry.
func hasService(services *Services, name string) bool {
	if services == nil {
		return false
	}
	switch name {
	case ServiceLLM:
		return services.LLM != nil
	case ServiceConversation:
		return services.Conversations != nil
	case ServiceFile:
		return services.Files != nil
	case ServiceTemplate:
		return services.Templates != nil
	case ServiceAPIKey:
		return services.APIKeys != nil
	case ServiceInterviewer:
		return services.Interviewer != nil
	case ServiceNotion:
		return services.Notion != nil
	}
	return false
}
