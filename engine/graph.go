// ABOUTME: Immutable executable graph produced by the compiler: typed nodes, edges, and lookup indexes.
// ABOUTME: Defines the closed node-type set and the per-type configuration structs handlers consume.
package engine

import (
	"sort"
	"time"
)

// NodeType tags a node with its handler type. The set is closed; the
// compiler rejects anything else.
type NodeType string

const (
	NodeStart        NodeType = "start"
	NodeEnd          NodeType = "end"
	NodePersonJob    NodeType = "person_job"
	NodeCondition    NodeType = "condition"
	NodeCodeJob      NodeType = "code_job"
	NodeAPIJob       NodeType = "api_job"
	NodeDB           NodeType = "db"
	NodeHook         NodeType = "hook"
	NodeUserResponse NodeType = "user_response"
	NodeNotion       NodeType = "notion"
	NodeBatch        NodeType = "batch"
)

// KnownNodeTypes lists every recognized node type.
var KnownNodeTypes = map[NodeType]bool{
	NodeStart: true, NodeEnd: true, NodePersonJob: true, NodeCondition: true,
	NodeCodeJob: true, NodeAPIJob: true, NodeDB: true, NodeHook: true,
	NodeUserResponse: true, NodeNotion: true, NodeBatch: true,
}

// DefaultOutput is the output handle used when an arrow does not name one.
const DefaultOutput = "default"

// Condition branch output handles.
const (
	BranchTrue  = "condtrue"
	BranchFalse = "condfalse"
)

// TransformRule names a value transformation applied on an edge.
type TransformRule string

const (
	TransformJSONToText        TransformRule = "json_to_text"
	TransformTextToJSON        TransformRule = "text_to_json"
	TransformBranchOnCondition TransformRule = "branch_on_condition"
)

// Packing controls how an edge's value enters the target's input map.
type Packing string

const (
	PackingPack   Packing = "pack"
	PackingSpread Packing = "spread"
)

// Edge metadata keys carried from arrow declarations.
const (
	MetaLabel            = "label"
	MetaIsFirstExecution = "is_first_execution"
)

// ExecutableNode is an immutable compiled node. Exactly one of the
// per-type config pointers is set, matching Type (tagged union).
type ExecutableNode struct {
	ID             string
	Type           NodeType
	Label          string
	RequiredInputs []string
	Defaults       map[string]any
	Providers      []string // provider names this node opted into
	InLoop         bool     // node sits on a cycle; outputs get iteration meta

	Start        *StartConfig
	End          *EndConfig
	PersonJob    *PersonJobConfig
	Condition    *ConditionConfig
	CodeJob      *CodeJobConfig
	APIJob       *APIJobConfig
	DB           *DBConfig
	Hook         *HookConfig
	UserResponse *UserResponseConfig
	Notion       *NotionConfig
	Batch        *BatchConfig
}

// StartConfig configures the execution entry node.
type StartConfig struct {
	CustomData  map[string]any
	TriggerMode string // "manual" (default) or "hook"
	HookEvent   string // event name to wait for in hook mode
	HookFilters map[string]string
}

// EndConfig configures the terminal node.
type EndConfig struct {
	SaveToFile string // optional path, relative to the file service base
}

// PersonJobConfig configures an LLM-agent step.
type PersonJobConfig struct {
	PersonID        string
	Model           string // overrides the person's model when set
	APIKeyID        string
	SystemPrompt    string
	DefaultPrompt   string
	FirstOnlyPrompt string
	MaxIteration    int
	MemoryPolicy    string // no_forget | on_every_turn | upon_request
	Tools           []string
}

// ConditionEvaluator names a condition node's decision procedure.
type ConditionEvaluator string

const (
	EvalCustomExpression ConditionEvaluator = "custom_expression"
	EvalMaxIterations    ConditionEvaluator = "max_iterations"
	EvalNodesExecuted    ConditionEvaluator = "nodes_executed"
	EvalLLMDecision      ConditionEvaluator = "llm_decision"
)

// ConditionConfig configures a branching node.
type ConditionConfig struct {
	Evaluator     ConditionEvaluator
	Expression    string   // custom_expression
	NodeIDs       []string // nodes_executed targets
	ExposeIndexAs string   // variable name for the loop index
	PersonID      string   // llm_decision
	Prompt        string   // llm_decision
}

// CodeJobConfig configures an inline code step.
type CodeJobConfig struct {
	Language string // python | javascript | bash
	Source   string
	Timeout  time.Duration
}

// APIAuth configures request authentication for api_job nodes.
type APIAuth struct {
	Kind   string // bearer | basic | api_key
	Token  string
	User   string
	Pass   string
	Header string // header name for api_key auth, default X-Api-Key
}

// APIJobConfig configures an outbound HTTP step.
type APIJobConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	Params      map[string]string
	Body        any
	Auth        *APIAuth
	Timeout     time.Duration
	AllowErrors bool // when true, non-2xx responses complete instead of failing
	MaxRetries  int
}

// DBConfig configures a file-backed data step.
type DBConfig struct {
	Operation string // prompt | read | write | append
	Path      string // relative path under the db base directory
}

// HookConfig configures an external side-effect step.
type HookConfig struct {
	Kind    string // shell | webhook
	Command string // shell
	URL     string // webhook
	Timeout time.Duration
}

// UserResponseConfig configures a human-input step.
type UserResponseConfig struct {
	Prompt  string
	Options []string
	Timeout time.Duration
}

// NotionConfig configures a Notion page step.
type NotionConfig struct {
	Operation string // read_page | create_page | append_blocks
	PageID    string
	APIKeyID  string
}

// BatchConfig configures a fan-over-items step.
type BatchConfig struct {
	ItemsKey    string // input key holding the item list; default "default"
	Template    string // rendered once per item with {{item}} and {{index}}
	MaxParallel int
}

// ExecutableEdge is an immutable compiled connection between handles.
type ExecutableEdge struct {
	ID             string
	Source         string
	SourceOutput   string
	Target         string
	TargetInput    string
	TransformRules []TransformRule
	Packing        Packing
	Metadata       map[string]string
}

// Key returns the canonical edge key used in error context and
// resolution bookkeeping.
func (e *ExecutableEdge) Key() string {
	return e.Source + ":" + e.SourceOutput + "->" + e.Target + ":" + e.TargetInput
}

// HasRule reports whether the edge carries the given transform rule.
func (e *ExecutableEdge) HasRule(rule TransformRule) bool {
	for _, r := range e.TransformRules {
		if r == rule {
			return true
		}
	}
	return false
}

// IsFirstExecution reports whether the edge is tagged for a person_job
// node's first execution only.
func (e *ExecutableEdge) IsFirstExecution() bool {
	return e.Metadata[MetaIsFirstExecution] == "true"
}

// Person mirrors the declarative person definition for runtime use.
type Person struct {
	ID           string
	Model        string
	APIKeyID     string
	SystemPrompt string
}

// ExecutableDiagram is the compiler's immutable output: nodes, edges,
// persons, and the indexes the scheduler and resolver traverse.
type ExecutableDiagram struct {
	ID       string
	Name     string
	Metadata map[string]string

	nodes   map[string]*ExecutableNode
	order   []string // node ids in declaration order
	edges   []*ExecutableEdge
	inbound map[string][]*ExecutableEdge
	outgoing map[string][]*ExecutableEdge
	persons map[string]*Person
}

// Node returns the node with the given ID, or nil if not found.
func (d *ExecutableDiagram) Node(id string) *ExecutableNode {
	return d.nodes[id]
}

// Nodes returns all nodes in declaration order.
func (d *ExecutableDiagram) Nodes() []*ExecutableNode {
	out := make([]*ExecutableNode, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// NodeIDs returns all node ids in sorted order for deterministic output.
func (d *ExecutableDiagram) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes.
func (d *ExecutableDiagram) NodeCount() int { return len(d.nodes) }

// Edges returns all edges.
func (d *ExecutableDiagram) Edges() []*ExecutableEdge { return d.edges }

// IncomingEdges returns all edges terminating at the given node.
func (d *ExecutableDiagram) IncomingEdges(nodeID string) []*ExecutableEdge {
	return d.inbound[nodeID]
}

// OutgoingEdges returns all edges originating from the given node.
func (d *ExecutableDiagram) OutgoingEdges(nodeID string) []*ExecutableEdge {
	return d.outgoing[nodeID]
}

// StartNode returns the diagram's start node, or nil when absent.
func (d *ExecutableDiagram) StartNode() *ExecutableNode {
	for _, id := range d.order {
		if d.nodes[id].Type == NodeStart {
			return d.nodes[id]
		}
	}
	return nil
}

// Person returns the person with the given ID, or nil if not found.
func (d *ExecutableDiagram) Person(id string) *Person {
	return d.persons[id]
}

// PersonJobNodes returns all person_job nodes, used by the
// max_iterations condition evaluator.
func (d *ExecutableDiagram) PersonJobNodes() []*ExecutableNode {
	var out []*ExecutableNode
	for _, id := range d.order {
		if d.nodes[id].Type == NodePersonJob {
			out = append(out, d.nodes[id])
		}
	}
	return out
}
