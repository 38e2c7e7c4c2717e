package client

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Prompt names shipped with the binary.
const (
	PromptClassifyIntent  = "classify_intent"
	PromptEstimateChange  = "estimate_change"
	PromptSynthesizePatch = "synthesize_patch"
	PromptRegenerate      = "regenerate"
)

func loadPromptFile(name string) (string, error) {
	data, err := fs.ReadFile(embeddedPrompts, "prompts/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}
	return string(data), nil
}

// PromptNames lists the embedded prompt templates.
func PromptNames() []string {
	entries, err := fs.ReadDir(embeddedPrompts, "prompts")
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".txt")
		name = strings.TrimSuffix(strings.TrimSuffix(name, ".system"), ".user")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// RenderPrompt fills the <name>.system.txt / <name>.user.txt pair with vars
// using eino's Go template chat template.
func RenderPrompt(ctx context.Context, name string, vars map[string]any) (Prompt, error) {
	system, err := loadPromptFile(name + ".system.txt")
	if err != nil {
		return Prompt{}, err
	}
	user, err := loadPromptFile(name + ".user.txt")
	if err != nil {
		return Prompt{}, err
	}

	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	if len(msgs) != 2 {
		return Prompt{}, fmt.Errorf("prompt %s rendered %d messages, expected 2", name, len(msgs))
	}
	return Prompt{
		Name:   name,
		System: strings.TrimSpace(msgs[0].Content),
		User:   strings.TrimSpace(msgs[1].Content),
	}, nil
}
