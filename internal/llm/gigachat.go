package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Role1776/gigago"
)

const gigaChatSystemInstruction = "You extract financial transactions from bills, invoices and bank statements. " +
	"Answer with a raw JSON array only."

// GigaChatClient completes prompts with Sber GigaChat.
type GigaChatClient struct {
	client *gigago.Client
	model  *gigago.GenerativeModel
}

// NewGigaChatClient authenticates against GigaChat with the given
// authorization key and scope.
func NewGigaChatClient(ctx context.Context, apiKey, scope string, insecureSkipVerify bool) (*GigaChatClient, error) {
	if apiKey == "" {
		return nil, errors.New("NewGigaChatClient: API key is required")
	}

	opts := []gigago.Option{
		gigago.WithCustomScope(scope),
	}
	if insecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
	}

	client, err := gigago.NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGigaChatClient: %w", err)
	}

	model := client.GenerativeModel("GigaChat")
	model.SystemInstruction = gigaChatSystemInstruction
	model.Temperature = 0.1

	return &GigaChatClient{client: client, model: model}, nil
}

func (g *GigaChatClient) Name() string {
	return "gigachat"
}

func (g *GigaChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := g.model.Generate(ctx, messages)
	if err != nil {
		return "", &ServiceError{Service: g.Name(), Err: fmt.Errorf("generate: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close releases the underlying HTTP resources.
func (g *GigaChatClient) Close() error {
	g.client.Close()
	return nil
}
