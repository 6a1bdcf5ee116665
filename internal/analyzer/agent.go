package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
)

const systemPrompt = "You are a visual grounding assistant. You locate the main subject of an image and answer only with JSON."

// AgentOptions locates the Ollama server and model
type AgentOptions struct {
	BaseURL string
	Port    int
	Model   string
}

// NewAgent initializes and returns a new vision agent
func NewAgent(ctx context.Context, opts AgentOptions, logger *slog.Logger) (*agent.DefaultAgent, error) {
	// Check if Ollama is running
	if err := ping(ctx, opts); err != nil {
		return nil, err
	}

	// Set up Ollama provider
	provider := ollama.NewProvider(&ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: opts.BaseURL,
		Port:    opts.Port,
	})

	provider.UseModel(ctx, &types.Model{
		ID: opts.Model,
	})

	// Initialize agent
	return agent.NewAgent(&agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: systemPrompt,
	}), nil
}

func ping(ctx context.Context, opts AgentOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s:%d/api/tags", opts.BaseURL, opts.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid ollama address: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not reachable at %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned %s from %s", resp.Status, url)
	}
	return nil
}

// agentPrompter sends one image and prompt to the agent and returns the
// model's final message
type agentPrompter struct {
	agent *agent.DefaultAgent
}

// NewPrompter wraps a vision agent
func NewPrompter(a *agent.DefaultAgent) Prompter {
	return &agentPrompter{agent: a}
}

func (p *agentPrompter) Prompt(ctx context.Context, input, imagePath string) (string, error) {
	response := p.agent.Run(
		ctx,
		agent.WithInput(input),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}

	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}

	// Get the model's response (not the prompt)
	return response.Messages[len(response.Messages)-1].Content, nil
}
