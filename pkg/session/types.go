package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTurn is returned when a turn's content does not match its intent.
var ErrInvalidTurn = errors.New("invalid turn")

// Intent is the output modality of a turn.
type Intent string

const (
	IntentNone  Intent = "none"
	IntentText  Intent = "text"
	IntentImage Intent = "image"
	IntentVideo Intent = "video"
)

// ParseIntent maps s onto a modality; anything unknown is text.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentImage:
		return IntentImage
	case IntentVideo:
		return IntentVideo
	default:
		return IntentText
	}
}

// ContentType tags the payload of a turn.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// Intent returns the modality producing this content type.
func (c ContentType) Intent() Intent {
	switch c {
	case ContentText:
		return IntentText
	case ContentImage:
		return IntentImage
	case ContentVideo:
		return IntentVideo
	default:
		return IntentNone
	}
}

// Action is what the orchestrator did for a turn.
type Action string

const (
	ActionChat     Action = "chat"
	ActionGenerate Action = "generate"
	ActionEdit     Action = "edit"
	ActionRemix    Action = "remix"
)

// AssetRef points at a stored generated file.
type AssetRef struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	MIME string `json:"mime,omitempty"`
}

// VideoRef identifies a finished video job and its stored file.
type VideoRef struct {
	JobID string   `json:"job_id"`
	Asset AssetRef `json:"asset"`
}

// Content is the tagged result of a turn. Text is set for ContentText,
// Asset for image and video, JobID for video.
type Content struct {
	Type  ContentType `json:"type"`
	Text  string      `json:"text,omitempty"`
	Asset *AssetRef   `json:"asset,omitempty"`
	JobID string      `json:"job_id,omitempty"`
}

// TextContent wraps a text reply.
func TextContent(text string) Content {
	return Content{Type: ContentText, Text: text}
}

// ImageContent wraps a generated image.
func ImageContent(asset AssetRef) Content {
	return Content{Type: ContentImage, Asset: &asset}
}

// VideoContent wraps a finished video.
func VideoContent(video VideoRef) Content {
	asset := video.Asset
	return Content{Type: ContentVideo, Asset: &asset, JobID: video.JobID}
}

// Validate checks the variant carries its payload.
func (c Content) Validate() error {
	switch c.Type {
	case ContentText:
		if c.Asset != nil {
			return fmt.Errorf("%w: text content carries an asset", ErrInvalidTurn)
		}
	case ContentImage:
		if c.Asset == nil || c.Asset.Key == "" {
			return fmt.Errorf("%w: image content without asset", ErrInvalidTurn)
		}
	case ContentVideo:
		if c.Asset == nil || c.Asset.Key == "" {
			return fmt.Errorf("%w: video content without asset", ErrInvalidTurn)
		}
		if c.JobID == "" {
			return fmt.Errorf("%w: video content without job id", ErrInvalidTurn)
		}
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidTurn, c.Type)
	}
	return nil
}

func (c Content) clone() Content {
	if c.Asset != nil {
		asset := *c.Asset
		c.Asset = &asset
	}
	return c
}

// Turn is one completed request/response exchange. Immutable once applied.
type Turn struct {
	ID          string    `json:"id"`
	Input       string    `json:"input"`
	Instruction string    `json:"instruction"`
	Intent      Intent    `json:"intent"`
	Action      Action    `json:"action"`
	Content     Content   `json:"content"`
	CreatedAt   time.Time `json:"created_at"`

	// Generation hints the engine was called with.
	Style   string `json:"style,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Size    string `json:"size,omitempty"`
}

// Reply renders the assistant side of the turn as plain text. Media turns
// become a short note carrying the asset URL.
func (t Turn) Reply() string {
	switch t.Content.Type {
	case ContentImage:
		return "[image generated] " + t.Content.Asset.URL
	case ContentVideo:
		return "[video generated] " + t.Content.Asset.URL
	default:
		return t.Content.Text
	}
}

// Session is the state of one conversation.
type Session struct {
	ID         string    `json:"id"`
	History    []Turn    `json:"history"`
	LastIntent Intent    `json:"last_intent"`
	LastImage  *AssetRef `json:"last_image,omitempty"`
	LastVideo  *VideoRef `json:"last_video,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New returns an empty session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		History:    []Turn{},
		LastIntent: IntentNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Apply appends turn and moves the modality context to its content type.
// Switching modality clears the other reference.
func (s *Session) Apply(turn Turn) error {
	if err := turn.Content.Validate(); err != nil {
		return err
	}
	if turn.Intent != turn.Content.Type.Intent() {
		return fmt.Errorf("%w: intent %s with %s content", ErrInvalidTurn, turn.Intent, turn.Content.Type)
	}

	turn.Content = turn.Content.clone()
	s.History = append(s.History, turn)
	s.LastIntent = turn.Intent

	switch turn.Content.Type {
	case ContentText:
		s.LastImage = nil
		s.LastVideo = nil
	case ContentImage:
		asset := *turn.Content.Asset
		s.LastImage = &asset
		s.LastVideo = nil
	case ContentVideo:
		s.LastImage = nil
		s.LastVideo = &VideoRef{JobID: turn.Content.JobID, Asset: *turn.Content.Asset}
	}

	if turn.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = turn.CreatedAt
	}
	return nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = make([]Turn, len(s.History))
	for i, t := range s.History {
		t.Content = t.Content.clone()
		out.History[i] = t
	}
	if s.LastImage != nil {
		img := *s.LastImage
		out.LastImage = &img
	}
	if s.LastVideo != nil {
		vid := *s.LastVideo
		out.LastVideo = &vid
	}
	return &out
}

// Recent returns at most n of the latest turns. n <= 0 returns all.
func (s *Session) Recent(n int) []Turn {
	if n <= 0 || n >= len(s.History) {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// CheckInvariants reports the first violated state invariant.
func (s *Session) CheckInvariants() error {
	want := IntentNone
	if n := len(s.History); n > 0 {
		want = s.History[n-1].Content.Type.Intent()
	}
	if s.LastIntent != want {
		return fmt.Errorf("last intent %s, want %s", s.LastIntent, want)
	}
	if (s.LastImage != nil) != (s.LastIntent == IntentImage) {
		return fmt.Errorf("last image set=%t with last intent %s", s.LastImage != nil, s.LastIntent)
	}
	if (s.LastVideo != nil) != (s.LastIntent == IntentVideo) {
		return fmt.Errorf("last video set=%t with last intent %s", s.LastVideo != nil, s.LastIntent)
	}
	return nil
}
