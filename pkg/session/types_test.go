package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func textTurn(text string) Turn {
	return Turn{ID: "t-" + text, Input: text, Instruction: text, Intent: IntentText, Action: ActionChat, Content: TextContent("reply to " + text), CreatedAt: t0}
}

func imageTurn(key string, action Action) Turn {
	return Turn{ID: "t-" + key, Input: key, Instruction: key, Intent: IntentImage, Action: action, Content: ImageContent(AssetRef{Key: key, URL: "/outputs/" + key}), CreatedAt: t0}
}

func videoTurn(job string, action Action) Turn {
	return Turn{ID: "t-" + job, Input: job, Instruction: job, Intent: IntentVideo, Action: action, Content: VideoContent(VideoRef{JobID: job, Asset: AssetRef{Key: job + ".mp4"}}), CreatedAt: t0}
}

func TestParseIntent(t *testing.T) {
	assert.Equal(t, IntentImage, ParseIntent("image"))
	assert.Equal(t, IntentVideo, ParseIntent("video"))
	assert.Equal(t, IntentText, ParseIntent("text"))
	assert.Equal(t, IntentText, ParseIntent("audio"))
	assert.Equal(t, IntentText, ParseIntent(""))
}

func TestNewSession(t *testing.T) {
	s := New("abc", t0)

	assert.Equal(t, "abc", s.ID)
	assert.Empty(t, s.History)
	assert.Equal(t, IntentNone, s.LastIntent)
	assert.Nil(t, s.LastImage)
	assert.Nil(t, s.LastVideo)
	assert.NoError(t, s.CheckInvariants())
}

func TestSessionApply(t *testing.T) {
	tests := []struct {
		name       string
		turns      []Turn
		wantIntent Intent
		wantImage  string
		wantVideo  string
	}{
		{
			name:       "text",
			turns:      []Turn{textTurn("haiku")},
			wantIntent: IntentText,
		},
		{
			name:       "image then edit replaces reference",
			turns:      []Turn{imageTurn("a.png", ActionGenerate), imageTurn("b.png", ActionEdit)},
			wantIntent: IntentImage,
			wantImage:  "b.png",
		},
		{
			name:       "image then video clears image",
			turns:      []Turn{imageTurn("a.png", ActionGenerate), videoTurn("v1", ActionGenerate)},
			wantIntent: IntentVideo,
			wantVideo:  "v1",
		},
		{
			name:       "video then text clears video",
			turns:      []Turn{videoTurn("v1", ActionGenerate), textTurn("hello")},
			wantIntent: IntentText,
		},
		{
			name:       "video remix replaces job",
			turns:      []Turn{videoTurn("v1", ActionGenerate), videoTurn("v2", ActionRemix)},
			wantIntent: IntentVideo,
			wantVideo:  "v2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("s", t0)
			for _, turn := range tt.turns {
				require.NoError(t, s.Apply(turn))
			}

			assert.Len(t, s.History, len(tt.turns))
			assert.Equal(t, tt.wantIntent, s.LastIntent)
			if tt.wantImage == "" {
				assert.Nil(t, s.LastImage)
			} else {
				require.NotNil(t, s.LastImage)
				assert.Equal(t, tt.wantImage, s.LastImage.Key)
			}
			if tt.wantVideo == "" {
				assert.Nil(t, s.LastVideo)
			} else {
				require.NotNil(t, s.LastVideo)
				assert.Equal(t, tt.wantVideo, s.LastVideo.JobID)
			}
			assert.NoError(t, s.CheckInvariants())
		})
	}
}

func TestSessionApplyRejectsMismatch(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
	}{
		{"intent mismatch", Turn{Intent: IntentImage, Content: TextContent("x")}},
		{"image without asset", Turn{Intent: IntentImage, Content: Content{Type: ContentImage}}},
		{"video without job", Turn{Intent: IntentVideo, Content: Content{Type: ContentVideo, Asset: &AssetRef{Key: "v.mp4"}}}},
		{"unknown type", Turn{Intent: IntentText, Content: Content{Type: "audio"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("s", t0)
			err := s.Apply(tt.turn)
			assert.True(t, errors.Is(err, ErrInvalidTurn))
			assert.Empty(t, s.History)
			assert.Equal(t, IntentNone, s.LastIntent)
		})
	}
}

func TestSessionApplyUpdatesTimestamp(t *testing.T) {
	s := New("s", t0)
	turn := textTurn("later")
	turn.CreatedAt = t0.Add(time.Minute)

	require.NoError(t, s.Apply(turn))
	assert.Equal(t, t0.Add(time.Minute), s.UpdatedAt)
	assert.Equal(t, t0, s.CreatedAt)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := New("s", t0)
	require.NoError(t, s.Apply(imageTurn("a.png", ActionGenerate)))

	c := s.Clone()
	c.LastImage.Key = "changed"
	c.History[0].Content.Asset.Key = "changed"
	c.History = append(c.History, textTurn("more"))

	assert.Equal(t, "a.png", s.LastImage.Key)
	assert.Equal(t, "a.png", s.History[0].Content.Asset.Key)
	assert.Len(t, s.History, 1)
}

func TestSessionApplyDoesNotAliasTurn(t *testing.T) {
	s := New("s", t0)
	turn := imageTurn("a.png", ActionGenerate)
	require.NoError(t, s.Apply(turn))

	turn.Content.Asset.Key = "mutated"
	assert.Equal(t, "a.png", s.History[0].Content.Asset.Key)
	assert.Equal(t, "a.png", s.LastImage.Key)
}

func TestSessionRecent(t *testing.T) {
	s := New("s", t0)
	for _, w := range []string{"a", "b", "c"} {
		require.NoError(t, s.Apply(textTurn(w)))
	}

	assert.Len(t, s.Recent(0), 3)
	assert.Len(t, s.Recent(10), 3)
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].Input)
	assert.Equal(t, "c", recent[1].Input)
}

func TestTurnReply(t *testing.T) {
	assert.Equal(t, "reply to hi", textTurn("hi").Reply())
	assert.Equal(t, "[image generated] /outputs/a.png", imageTurn("a.png", ActionGenerate).Reply())

	v := videoTurn("v1", ActionGenerate)
	v.Content.Asset.URL = "/outputs/v1.mp4"
	assert.Equal(t, "[video generated] /outputs/v1.mp4", v.Reply())
}
