package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider backs the "gemini" and "gemini_pro" backend slots via
// Google's GenAI SDK.
type GenAIProvider struct {
	client       *genai.Client
	defaultModel string
}

func NewGenAIProvider(ctx context.Context, apiKey, defaultModel string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai: API key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GenAIProvider{client: client, defaultModel: defaultModel}, nil
}

func (p *GenAIProvider) Name() string            { return "gemini" }
func (p *GenAIProvider) GetDefaultModel() string  { return p.defaultModel }

func (p *GenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model == "" {
		model = p.defaultModel
	}

	system, contents := convertGenAIMessages(messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if temp, ok := options["temperature"].(float64); ok {
		t := float32(temp)
		config.Temperature = &t
	}
	if maxTokens, ok := options["max_tokens"].(int); ok && maxTokens > 0 {
		mt := int32(maxTokens)
		config.MaxOutputTokens = mt
	}
	if len(tools) > 0 {
		config.Tools = convertGenAITools(tools)
	}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("genai: generate content: %w", err)
	}
	if len(result.Candidates) == 0 {
		return &LLMResponse{Model: model, FinishReason: "stop"}, nil
	}

	resp := &LLMResponse{Model: model}
	cand := result.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				resp.Content += part.Text
			}
			if part.FunctionCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}
	resp.FinishReason = string(cand.FinishReason)
	if result.UsageMetadata != nil {
		resp.Usage = UsageInfo{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func convertGenAIMessages(messages []Message) (string, []*genai.Content) {
	system := ""
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case "tool":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, contents
}

func convertGenAITools(tools []ToolDefinition) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		schemaJSON, err := json.Marshal(t.Function.Parameters)
		if err != nil {
			continue
		}
		var schema genai.Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			continue
		}
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  &schema,
		})
	}
	if len(fns) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}
