package conversation

import (
	"sync"
	"testing"
	"time"

	"github.com/harun/mosaic/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func textTurn(id, input, reply string) session.Turn {
	return session.Turn{
		ID: id, Input: input, Instruction: input,
		Intent: session.IntentText, Action: session.ActionChat,
		Content: session.TextContent(reply), CreatedAt: testNow,
	}
}

func imageTurn(id, input, key string) session.Turn {
	return session.Turn{
		ID: id, Input: input, Instruction: input,
		Intent: session.IntentImage, Action: session.ActionGenerate,
		Content:   session.ImageContent(session.AssetRef{Key: key, URL: "/outputs/" + key}),
		CreatedAt: testNow,
	}
}

func videoTurn(id, input, job string) session.Turn {
	return session.Turn{
		ID: id, Input: input, Instruction: input,
		Intent: session.IntentVideo, Action: session.ActionRemix,
		Content: session.VideoContent(session.VideoRef{
			JobID: job,
			Asset: session.AssetRef{Key: job + ".mp4", URL: "/outputs/" + job + ".mp4"},
		}),
		CreatedAt: testNow,
	}
}

func TestTimeline(t *testing.T) {
	s := session.New("s1", testNow)
	require.NoError(t, s.Apply(textTurn("t1", "hi", "hello")))
	require.NoError(t, s.Apply(imageTurn("t2", "draw a cat", "image_1.png")))
	require.NoError(t, s.Apply(videoTurn("t3", "add rain", "video_2")))

	got := Timeline(s)
	require.Len(t, got, 6)

	assert.Equal(t, Entry{TurnID: "t1", Role: RoleUser, ContentType: session.ContentText, Text: "hi", CreatedAt: testNow}, got[0])
	assert.Equal(t, Entry{
		TurnID: "t1", Role: RoleAssistant, ContentType: session.ContentText, Text: "hello",
		Intent: session.IntentText, Action: session.ActionChat, CreatedAt: testNow,
	}, got[1])
	assert.Equal(t, "/outputs/image_1.png", got[3].AssetURL)
	assert.Empty(t, got[3].Text)
	assert.Equal(t, session.ContentVideo, got[5].ContentType)
	assert.Equal(t, session.ActionRemix, got[5].Action)
	assert.Equal(t, "/outputs/video_2.mp4", got[5].AssetURL)

	for i := 0; i < len(got); i += 2 {
		assert.Equal(t, RoleUser, got[i].Role)
		assert.Equal(t, RoleAssistant, got[i+1].Role)
		assert.Equal(t, got[i].TurnID, got[i+1].TurnID)
	}
}

func TestTimeline_Empty(t *testing.T) {
	assert.Empty(t, Timeline(session.New("s1", testNow)))
	assert.NotNil(t, Timeline(nil))
}

func TestNewReply(t *testing.T) {
	tests := []struct {
		name string
		turn session.Turn
		want Reply
	}{
		{
			name: "text",
			turn: textTurn("t1", "hi", "hello"),
			want: Reply{
				SessionID: "s1", Intent: session.IntentText, ContentType: session.ContentText, Text: "hello",
				Debug: &ReplyDebug{RoutedPrompt: "hi"},
			},
		},
		{
			name: "image",
			turn: imageTurn("t2", "draw", "image_1.png"),
			want: Reply{
				SessionID: "s1", Intent: session.IntentImage, ContentType: session.ContentImage, AssetURL: "/outputs/image_1.png",
				Debug: &ReplyDebug{RoutedPrompt: "draw"},
			},
		},
		{
			name: "image with style",
			turn: func() session.Turn {
				turn := imageTurn("t2", "a castle", "image_2.png")
				turn.Style = "pixel art"
				return turn
			}(),
			want: Reply{
				SessionID: "s1", Intent: session.IntentImage, ContentType: session.ContentImage, AssetURL: "/outputs/image_2.png",
				Debug: &ReplyDebug{RoutedPrompt: "a castle", Style: "pixel art"},
			},
		},
		{
			name: "video",
			turn: videoTurn("t3", "animate", "video_1"),
			want: Reply{
				SessionID: "s1", Intent: session.IntentVideo, ContentType: session.ContentVideo, AssetURL: "/outputs/video_1.mp4",
				Debug: &ReplyDebug{RoutedPrompt: "animate"},
			},
		},
		{
			name: "video with hints",
			turn: func() session.Turn {
				turn := videoTurn("t3", "waves", "video_2")
				turn.Seconds, turn.Size = 8, "1280x720"
				return turn
			}(),
			want: Reply{
				SessionID: "s1", Intent: session.IntentVideo, ContentType: session.ContentVideo, AssetURL: "/outputs/video_2.mp4",
				Debug: &ReplyDebug{RoutedPrompt: "waves", Seconds: 8, Size: "1280x720"},
			},
		},
		{
			name: "no instruction",
			turn: session.Turn{Intent: session.IntentText, Content: session.TextContent("hello")},
			want: Reply{SessionID: "s1", Intent: session.IntentText, ContentType: session.ContentText, Text: "hello"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewReply("s1", tt.turn))
		})
	}
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishToSessionSubscribers(t *testing.T) {
	hub := NewHub(0, zerolog.Nop())
	sub := hub.Subscribe("s1")
	other := hub.Subscribe("s2")
	defer hub.Unsubscribe(sub)
	defer hub.Unsubscribe(other)

	hub.Publish("s1", textTurn("t1", "hi", "hello"))

	user := receive(t, sub)
	assistant := receive(t, sub)
	assert.Equal(t, "event", user.Type)
	assert.Equal(t, EventTimelineEntry, user.Event)
	assert.Equal(t, "s1", user.SessionID)
	assert.Equal(t, RoleUser, user.Entry.Role)
	assert.Equal(t, RoleAssistant, assistant.Entry.Role)
	assert.Greater(t, assistant.Seq, user.Seq)

	select {
	case ev := <-other.Events():
		t.Fatalf("unexpected event for other session: %+v", ev)
	default:
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(4, zerolog.Nop())
	sub := hub.Subscribe("s1")
	assert.Equal(t, 1, hub.Count("s1"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Count("s1"))

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Publishing with no subscribers is a no-op.
	hub.Publish("s1", textTurn("t1", "hi", "hello"))
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe("s1")
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		hub.Publish("s1", textTurn("t1", "hi", "hello"))
		hub.Publish("s1", textTurn("t2", "again", "yes"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(3), sub.Dropped())
}

func TestHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewHub(64, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("s1")
			hub.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			hub.Publish("s1", textTurn("t", "hi", "hello"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Count("s1"))
}
