package capability

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini implements TextGenerator for Google Gemini
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a new Gemini text adapter
func NewGemini(ctx context.Context, apiKey, baseURL, model string) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Provider returns the provider name
func (p *Gemini) Provider() string {
	return "gemini"
}

// geminiContents maps chat messages onto Gemini contents, merging
// consecutive messages of the same role.
func geminiContents(messages []Message) (*genai.Content, []*genai.Content) {
	var system []*genai.Part
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, genai.NewPartFromText(msg.Content))
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(msg.Content))
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	if len(system) == 0 {
		return nil, contents
	}
	return &genai.Content{Parts: system}, contents
}

// TextGenerate calls Models.GenerateContent
func (p *Gemini) TextGenerate(ctx context.Context, messages []Message) (string, error) {
	system, contents := geminiContents(messages)
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates")
	}
	if fr := resp.Candidates[0].FinishReason; fr != "" && fr != genai.FinishReasonStop && fr != genai.FinishReasonMaxTokens {
		return "", fmt.Errorf("unexpected finish reason: %s", fr)
	}

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return content, nil
}

var _ TextGenerator = (*Gemini)(nil)
