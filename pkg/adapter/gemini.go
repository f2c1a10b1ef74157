package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Gemini implements Chat and Embedder on the Gemini API. Clients are built
// per request because API keys are owner-scoped.
type Gemini struct{}

// NewGemini creates a Gemini adapter
func NewGemini() *Gemini {
	return &Gemini{}
}

func (g *Gemini) client(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}
	return client, nil
}

// geminiContents maps the canonical message list to genai contents. The
// assistant role becomes the model role, everything else is a user turn.
func geminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func (g *Gemini) Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	client, err := g.client(ctx, req.APIKey, req.BaseURL)
	if err != nil {
		return nil, err
	}

	contents := geminiContents(req.Messages)

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = req.MaxOutputTokens
	}
	if req.ThinkingBudget > 0 {
		budget := req.ThinkingBudget
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &budget,
		}
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &ChatResponse{Content: text.String(), TokensUsed: tokens}, nil
}

func (g *Gemini) Embed(ctx context.Context, req *EmbedRequest) ([]float32, error) {
	client, err := g.client(ctx, req.APIKey, "")
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "gemini-embedding-001"
	}

	resp, err := client.Models.EmbedContent(ctx, model, genai.Text(req.Text), &genai.EmbedContentConfig{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}
	if len(resp.Embeddings) == 0 {
		return nil, goerr.New("no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}
