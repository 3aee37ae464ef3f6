package conversation

import (
	"time"

	"github.com/harun/mosaic/pkg/session"
)

// Role of a timeline entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one bubble in the chat view.
type Entry struct {
	TurnID      string              `json:"turn_id"`
	Role        Role                `json:"role"`
	ContentType session.ContentType `json:"content_type"`
	Text        string              `json:"text,omitempty"`
	AssetURL    string              `json:"asset_url,omitempty"`
	Intent      session.Intent      `json:"intent,omitempty"`
	Action      session.Action      `json:"action,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Timeline returns the user and assistant entries of every turn in order.
func Timeline(s *session.Session) []Entry {
	if s == nil {
		return []Entry{}
	}
	entries := make([]Entry, 0, 2*len(s.History))
	for _, turn := range s.History {
		entries = append(entries, Entries(turn)...)
	}
	return entries
}

// Entries maps one turn onto its user entry followed by its assistant entry.
func Entries(turn session.Turn) []Entry {
	user := Entry{
		TurnID:      turn.ID,
		Role:        RoleUser,
		ContentType: session.ContentText,
		Text:        turn.Input,
		CreatedAt:   turn.CreatedAt,
	}

	assistant := Entry{
		TurnID:      turn.ID,
		Role:        RoleAssistant,
		ContentType: turn.Content.Type,
		Intent:      turn.Intent,
		Action:      turn.Action,
		CreatedAt:   turn.CreatedAt,
	}
	switch turn.Content.Type {
	case session.ContentText:
		assistant.Text = turn.Content.Text
	case session.ContentImage, session.ContentVideo:
		if turn.Content.Asset != nil {
			assistant.AssetURL = turn.Content.Asset.URL
		}
	}

	return []Entry{user, assistant}
}
