package mocks

import (
	"context"
	"fmt"
	"sync"

	"narraweave/internal/llm/client"
)

// CompletionServiceMock answers prompts from scripted responses keyed by
// prompt name, consumed in order.
type CompletionServiceMock struct {
	GenerateFunc func(ctx context.Context, prompt client.Prompt, format client.Format) (*client.Result, error)
	Responses    map[string][]string

	mu    sync.Mutex
	Calls []client.Prompt
}

func (m *CompletionServiceMock) Generate(ctx context.Context, prompt client.Prompt, format client.Format) (*client.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.Responses[prompt.Name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for prompt %s", prompt.Name)
	}
	raw := queue[0]
	m.Responses[prompt.Name] = queue[1:]
	return &client.Result{Text: client.Normalize(raw, format), Raw: raw, Format: format, Model: "mock"}, nil
}

// CallCount returns how many times a prompt was requested.
func (m *CompletionServiceMock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
