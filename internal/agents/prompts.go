package agents

import (
	"context"
	"embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed prompts/*.md
var promptFiles embed.FS

// LoadPrompt loads a prompt template from the embedded markdown files.
func LoadPrompt(name string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", name))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}
	return string(content), nil
}

// renderPrompt formats a system template and a user instruction with vars.
// Both are Go templates.
func renderPrompt(ctx context.Context, system, user string, vars map[string]any) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	return msgs, nil
}
