package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harun/mosaic/internal/config"
	"github.com/harun/mosaic/pkg/storage"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Models       config.ModelsConfig
	PollInterval time.Duration

	// Extra client options, e.g. option.WithHTTPClient in tests
	RequestOptions []option.RequestOption
}

// OpenAI implements every capability on the OpenAI API.
type OpenAI struct {
	client       openai.Client
	models       config.ModelsConfig
	assets       *storage.AssetStore
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewOpenAI creates an OpenAI adapter writing generated files to assets.
func NewOpenAI(cfg OpenAIConfig, assets *storage.AssetStore) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.RequestOptions...)

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &OpenAI{
		client:       openai.NewClient(opts...),
		models:       cfg.Models,
		assets:       assets,
		pollInterval: poll,
		httpClient:   http.DefaultClient,
	}
}

// Provider returns the provider name
func (p *OpenAI) Provider() string {
	return "openai"
}

func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// TextGenerate returns the chat completion for messages.
func (p *OpenAI) TextGenerate(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.models.Text),
		Messages: toOpenAIMessages("", messages),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return content, nil
}

// GenerateJSON requests a strict json_schema response from the router model.
func (p *OpenAI) GenerateJSON(ctx context.Context, req StructuredRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.models.Router),
		Messages: toOpenAIMessages(req.System, req.Messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Name,
					Description: param.NewOpt(req.Description),
					Schema:      req.Schema,
					Strict:      param.NewOpt(true),
				},
			},
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("refused: %s", msg.Refusal)
	}
	if msg.Content == "" {
		return "", fmt.Errorf("empty structured output")
	}
	return msg.Content, nil
}

// ImageGenerate renders a new image and stores it as PNG.
func (p *OpenAI) ImageGenerate(ctx context.Context, req ImageRequest) (Asset, error) {
	params := openai.ImageGenerateParams{
		Model:  openai.ImageModel(p.models.Image),
		Prompt: req.FullPrompt(),
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}

	resp, err := p.client.Images.Generate(ctx, params)
	if err != nil {
		return Asset{}, err
	}
	return p.storeImage(ctx, resp)
}

// ImageEdit applies req to the stored base image.
func (p *OpenAI) ImageEdit(ctx context.Context, base Asset, req ImageRequest) (Asset, error) {
	r, err := p.assets.Open(ctx, base.Key)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to open base image: %w", err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return Asset{}, fmt.Errorf("failed to read base image: %w", err)
	}

	mimeType := base.MIME
	if mimeType == "" {
		mimeType = "image/png"
	}
	params := openai.ImageEditParams{
		Model:  openai.ImageModel(p.models.Image),
		Prompt: req.FullPrompt(),
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(data), base.Key, mimeType),
		},
	}
	if req.Size != "" {
		params.Size = openai.ImageEditParamsSize(req.Size)
	}

	resp, err := p.client.Images.Edit(ctx, params)
	if err != nil {
		return Asset{}, err
	}
	return p.storeImage(ctx, resp)
}

func (p *OpenAI) storeImage(ctx context.Context, resp *openai.ImagesResponse) (Asset, error) {
	if resp == nil || len(resp.Data) == 0 {
		return Asset{}, fmt.Errorf("no image returned")
	}
	img := resp.Data[0]

	var data []byte
	switch {
	case img.B64JSON != "":
		decoded, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return Asset{}, fmt.Errorf("failed to decode image: %w", err)
		}
		data = decoded
	case img.URL != "":
		fetched, err := p.download(ctx, img.URL)
		if err != nil {
			return Asset{}, err
		}
		data = fetched
	default:
		return Asset{}, fmt.Errorf("image payload is empty")
	}

	return p.assets.Put(ctx, storage.KindImage, "png", bytes.NewReader(data))
}

func (p *OpenAI) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Transcribe runs speech-to-text on audio.
func (p *OpenAI) Transcribe(ctx context.Context, audio Audio) (string, error) {
	name := audio.Filename
	if name == "" {
		name = "audio.webm"
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio.Data, name, audio.ContentType),
		Model: openai.AudioModel(p.models.Transcribe),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

var (
	_ TextGenerator       = (*OpenAI)(nil)
	_ StructuredGenerator = (*OpenAI)(nil)
	_ ImageGenerator      = (*OpenAI)(nil)
	_ VideoGenerator      = (*OpenAI)(nil)
	_ Transcriber         = (*OpenAI)(nil)
)
