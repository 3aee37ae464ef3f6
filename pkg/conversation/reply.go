package conversation

import "github.com/harun/mosaic/pkg/session"

// Reply is the response body of a sent message.
type Reply struct {
	SessionID   string              `json:"session_id"`
	Intent      session.Intent      `json:"intent"`
	ContentType session.ContentType `json:"content_type"`
	Text        string              `json:"text,omitempty"`
	AssetURL    string              `json:"asset_url,omitempty"`
	Debug       *ReplyDebug         `json:"debug,omitempty"`
}

// ReplyDebug shows what the router sent to the engine.
type ReplyDebug struct {
	RoutedPrompt string `json:"routed_prompt"`
	Style        string `json:"style,omitempty"`
	Seconds      int    `json:"seconds,omitempty"`
	Size         string `json:"size,omitempty"`
}

// NewReply shapes turn for the caller. Text replies carry Text, media
// replies carry AssetURL. Debug is set when the turn records a routed prompt.
func NewReply(sessionID string, turn session.Turn) Reply {
	r := Reply{
		SessionID:   sessionID,
		Intent:      turn.Intent,
		ContentType: turn.Content.Type,
	}
	if turn.Instruction != "" {
		r.Debug = &ReplyDebug{
			RoutedPrompt: turn.Instruction,
			Style:        turn.Style,
			Seconds:      turn.Seconds,
			Size:         turn.Size,
		}
	}
	switch turn.Content.Type {
	case session.ContentText:
		r.Text = turn.Content.Text
	case session.ContentImage, session.ContentVideo:
		if turn.Content.Asset != nil {
			r.AssetURL = turn.Content.Asset.URL
		}
	}
	return r
}
