package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stagecast/stagecast/core"
)

// KnowledgeRetrieverName is the reserved name of the auto-attached knowledge
// lookup tool. Participants never list it explicitly; it appears whenever a
// participant has knowledge documents.
const KnowledgeRetrieverName = "knowledge_base_retriever"

// Retriever searches a participant's knowledge documents. The vector-store
// implementation lives outside the core; tests use fakes.
type Retriever interface {
	Retrieve(ctx context.Context, participantID, query string) ([]string, error)
}

// Registry resolves tool names to callables. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	retriever Retriever
}

// NewRegistry creates an empty registry. The retriever may be nil when no
// knowledge subsystem is wired in.
func NewRegistry(retriever Retriever) *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		retriever: retriever,
	}
}

// Register adds a tool. Re-registering a name replaces the previous tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ForParticipant resolves a participant's tool list. Unknown names are
// skipped rather than failing the turn. When the participant has knowledge
// documents and a retriever is available, the knowledge tool is appended.
func (r *Registry) ForParticipant(p *core.Participant) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(p.ToolNames)+1)
	for _, name := range p.ToolNames {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	if len(p.Knowledge) > 0 && r.retriever != nil {
		out = append(out, newKnowledgeTool(r.retriever, p))
	}
	return out
}

// knowledgeTool binds the retriever to one participant's document set.
type knowledgeTool struct {
	retriever   Retriever
	participant *core.Participant
}

func newKnowledgeTool(retriever Retriever, p *core.Participant) *knowledgeTool {
	return &knowledgeTool{retriever: retriever, participant: p}
}

func (t *knowledgeTool) Name() string { return KnowledgeRetrieverName }

func (t *knowledgeTool) Description() string {
	names := make([]string, 0, len(t.participant.Knowledge))
	for _, doc := range t.participant.Knowledge {
		names = append(names, doc.Name)
	}
	return fmt.Sprintf("Search your personal knowledge base (%s) for passages relevant to a query.", strings.Join(names, ", "))
}

func (t *knowledgeTool) Call(ctx context.Context, args map[string]any) (any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, NewToolError(KnowledgeRetrieverName, "missing required argument: query", "VALIDATION_ERROR")
	}
	passages, err := t.retriever.Retrieve(ctx, t.participant.ID, query)
	if err != nil {
		return nil, NewToolError(KnowledgeRetrieverName, err.Error(), "EXECUTION_ERROR")
	}
	return passages, nil
}
