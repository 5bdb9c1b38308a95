package runner

import (
	"context"

	"github.com/dyike/TradingAgentsGo/internal/agents"
	"github.com/dyike/TradingAgentsGo/internal/graph"
	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/internal/tools"
	"github.com/dyike/TradingAgentsGo/models"
)

// LLMAgents builds agents backed by the request's provider and model. Both
// the quick and the judge roles share the same client.
func LLMAgents(f *llm.Factory, reg *tools.Registry, opts ...agents.RuntimeOption) AgentsBuilder {
	return func(ctx context.Context, req models.AnalysisRequest) (graph.Agents, error) {
		client, err := f.MakeLLM(ctx, llm.Options{Provider: req.LLMProvider, Model: req.LLMModel})
		if err != nil {
			return nil, err
		}
		return agents.NewRuntime(client, reg, append([]agents.RuntimeOption{agents.WithDeepModel(client)}, opts...)...), nil
	}
}
