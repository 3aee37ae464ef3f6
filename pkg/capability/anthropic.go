package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

// Anthropic implements TextGenerator for Anthropic Claude
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates a new Anthropic text adapter
func NewAnthropic(apiKey, baseURL, model string, opts ...option.RequestOption) *Anthropic {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &Anthropic{
		client: anthropic.NewClient(all...),
		model:  model,
	}
}

// Provider returns the provider name
func (p *Anthropic) Provider() string {
	return "anthropic"
}

// TextGenerate makes an API call to Anthropic Claude
func (p *Anthropic) TextGenerate(ctx context.Context, messages []Message) (string, error) {
	var system []anthropic.TextBlockParam
	params := []anthropic.MessageParam{}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  params,
		MaxTokens: anthropicMaxTokens,
	}
	if len(system) > 0 {
		req.System = system
	}

	response, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return content, nil
}

var _ TextGenerator = (*Anthropic)(nil)
