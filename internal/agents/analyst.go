package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/dyike/TradingAgentsGo/internal/llm"
	"github.com/dyike/TradingAgentsGo/models"
	terrors "github.com/dyike/TradingAgentsGo/pkg/errors"
)

const (
	analystInstruction = "Analyze {{.ticker}} as of {{.trade_date}} and write your report."
	toolBudgetSpent    = "You have used all available tool calls. Write your final report now using the data gathered so far."
)

// Analyze runs an analyst role: prompt, then tool calls until the model
// answers without requesting any, at most maxIters turns. It returns the
// report text.
func (r *Runtime) Analyze(ctx context.Context, analyst string, st *models.AnalysisState) (string, error) {
	role, ok := Lookup(AnalystRoleID(analyst))
	if !ok || role.Kind != KindAnalyst {
		return "", terrors.Internal(nil, "unknown analyst %q", analyst)
	}
	if err := Interrupted(ctx); err != nil {
		return "", err
	}

	common, err := LoadPrompt("analyst_common")
	if err != nil {
		return "", terrors.Internal(err, "load prompt")
	}
	body, err := LoadPrompt(role.Prompt)
	if err != nil {
		return "", terrors.Internal(err, "load prompt for %s", role.ID)
	}
	msgs, err := renderPrompt(ctx, common+"\n"+body, analystInstruction, promptVars(st))
	if err != nil {
		return "", terrors.Internal(err, "render prompt for %s", role.ID)
	}

	ctx = llm.WithRole(ctx, role.ID)
	model := r.model(role)
	infos := r.tools.Infos(role.ID, role.Tools)
	bound := make(map[string]bool, len(infos))
	for _, info := range infos {
		bound[info.Name] = true
	}
	log := r.log.With("run_id", st.RunID, "role", role.ID)

	for iter := 0; iter < r.maxIters; iter++ {
		reply, err := model.Generate(ctx, msgs, infos, nil)
		if err != nil {
			return "", err
		}
		msg := reply.Message
		if len(msg.ToolCalls) == 0 {
			return finalReport(role, msg)
		}

		msgs = append(msgs, msg)
		for _, tc := range msg.ToolCalls {
			var out string
			if bound[tc.Function.Name] {
				out, _ = r.tools.Invoke(ctx, role.ID, tc.Function.Name, tc.Function.Arguments)
			} else {
				out = fmt.Sprintf("tool_error: tool %q is not available to %s", tc.Function.Name, role.ID)
			}
			msgs = append(msgs, schema.ToolMessage(out, tc.ID))
		}
		log.Debugw("tool round finished", "iteration", iter+1, "calls", len(msg.ToolCalls))

		if err := Interrupted(ctx); err != nil {
			return "", err
		}
	}

	log.Infow("tool loop cap reached", "cap", r.maxIters)
	msgs = append(msgs, schema.UserMessage(toolBudgetSpent))
	reply, err := model.Generate(ctx, msgs, nil, nil)
	if err != nil {
		return "", err
	}
	return finalReport(role, reply.Message)
}

func finalReport(role Role, msg *schema.Message) (string, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return "", terrors.Provider(nil, "%s returned an empty report", role.ID)
	}
	return text, nil
}
