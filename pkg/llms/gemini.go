package llms

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

// GeminiProvider talks to the Gemini API through the official SDK.
type GeminiProvider struct {
	config *config.LLMProviderConfig
	client *genai.Client
}

func NewGeminiProvider(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	contents, genConfig := p.buildRequest(messages)

	if len(tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	startTime := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	duration := time.Since(startTime)

	if err != nil {
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		return "", nil, 0, fmt.Errorf("Gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		noCandidateErr := fmt.Errorf("no candidates in Gemini response")
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, noCandidateErr)
		return "", nil, 0, noCandidateErr
	}

	var text string
	var toolCalls []*protocol.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(toolCalls))
			}
			toolCalls = append(toolCalls, &protocol.ToolCall{
				ID:   id,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}

	inputTokens, outputTokens, totalTokens := usageCounts(resp.UsageMetadata)
	recordLLMCall(ctx, p.config.Model, duration, inputTokens, outputTokens, nil)

	return text, toolCalls, totalTokens, nil
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	contents, genConfig := p.buildRequest(messages)
	genConfig.ResponseMIMEType = "application/json"
	if schema != nil {
		genConfig.ResponseJsonSchema = schema
	}

	startTime := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	duration := time.Since(startTime)

	if err != nil {
		recordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		return "", 0, fmt.Errorf("Gemini request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("no candidates in Gemini response")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}

	inputTokens, outputTokens, totalTokens := usageCounts(resp.UsageMetadata)
	recordLLMCall(ctx, p.config.Model, duration, inputTokens, outputTokens, nil)

	return text, totalTokens, nil
}

// buildRequest converts protocol messages into Gemini contents. System
// messages become the system instruction, tool messages become function
// responses.
func (p *GeminiProvider) buildRequest(messages []*protocol.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	temperature := float32(p.config.Temperature)
	genConfig := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(p.config.MaxTokens),
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case protocol.RoleSystem:
			if genConfig.SystemInstruction == nil {
				genConfig.SystemInstruction = &genai.Content{}
			}
			genConfig.SystemInstruction.Parts = append(genConfig.SystemInstruction.Parts,
				&genai.Part{Text: msg.Content})

		case protocol.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: msg.Content}},
			})

		case protocol.RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Args,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{
					Role:  genai.RoleModel,
					Parts: parts,
				})
			}

		case protocol.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolCallID,
						Response: map[string]any{"output": msg.Content},
					},
				}},
			})
		}
	}

	return contents, genConfig
}

func usageCounts(usage *genai.GenerateContentResponseUsageMetadata) (int, int, int) {
	if usage == nil {
		return 0, 0, 0
	}
	return int(usage.PromptTokenCount), int(usage.CandidatesTokenCount), int(usage.TotalTokenCount)
}
