package executor

import "context"

// Tool is one synthesized capability an experiment can invoke — built by
// the Builder service and resolved here by name.
type Tool func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolLoader resolves a tool by name. The only implementation in this
// repository is StaticLoader, which cmd/executor builds over its
// in-process tool registry; nothing is loaded from ToolsPath. It is an
// interface so tests can supply fakes without standing up real tools.
type ToolLoader interface {
	Load(name string) (Tool, error)
}

// StaticLoader is a ToolLoader backed by a fixed, in-process registry —
// the shape real tool registration takes once a tool has been compiled
// into the executor binary rather than loaded as an external plugin.
type StaticLoader struct {
	tools map[string]Tool
}

// NewStaticLoader builds a loader over the given name→Tool registry.
func NewStaticLoader(tools map[string]Tool) *StaticLoader {
	return &StaticLoader{tools: tools}
}

func (l *StaticLoader) Load(name string) (Tool, error) {
	tool, ok := l.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Tool: name}
	}
	return tool, nil
}
