package capability

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/harun/mosaic/pkg/storage"
)

// ErrUnavailable marks every adapter failure: unreachable engine, timeout or
// malformed output.
var ErrUnavailable = errors.New("capability unavailable")

// Error describes a failed capability call.
type Error struct {
	Capability string // text, image, video, transcribe, structured
	Op         string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Capability, e.Op, e.Err)
}

// Unwrap exposes the cause so callers can test for context.DeadlineExceeded.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrUnavailable for every capability error.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrap(capability, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Capability: capability, Op: op, Err: err}
}

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message sent to a text engine.
type Message struct {
	Role    Role
	Content string
}

// Asset is a stored image or video file.
type Asset = storage.Asset

// ImageRequest describes an image generation or edit.
type ImageRequest struct {
	Prompt string
	Style  string
	Size   string
}

// FullPrompt folds the style hint into the prompt.
func (r ImageRequest) FullPrompt() string {
	if r.Style == "" {
		return r.Prompt
	}
	return fmt.Sprintf("%s\nStyle: %s", r.Prompt, r.Style)
}

// VideoRequest describes a video generation or remix.
type VideoRequest struct {
	Prompt  string
	Seconds int
	Size    string
}

// Video is a finished video job and its stored file.
type Video struct {
	JobID string
	Asset Asset
}

// Audio is an uploaded recording to transcribe.
type Audio struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// StructuredRequest asks for a JSON document matching Schema.
type StructuredRequest struct {
	Name        string
	Description string
	Schema      map[string]any
	System      string
	Messages    []Message
}

// TextGenerator produces a chat reply.
type TextGenerator interface {
	TextGenerate(ctx context.Context, messages []Message) (string, error)
}

// ImageGenerator produces and edits images.
type ImageGenerator interface {
	ImageGenerate(ctx context.Context, req ImageRequest) (Asset, error)
	ImageEdit(ctx context.Context, base Asset, req ImageRequest) (Asset, error)
}

// VideoGenerator produces and remixes videos.
type VideoGenerator interface {
	VideoGenerate(ctx context.Context, req VideoRequest) (Video, error)
	VideoRemix(ctx context.Context, base Video, req VideoRequest) (Video, error)
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// StructuredGenerator returns raw JSON text constrained by a schema.
type StructuredGenerator interface {
	GenerateJSON(ctx context.Context, req StructuredRequest) (string, error)
}

// Set bundles the engines a turn can dispatch to.
type Set struct {
	Text        TextGenerator
	Image       ImageGenerator
	Video       VideoGenerator
	Transcriber Transcriber
	Structured  StructuredGenerator
}
