package intent

import (
	"context"
	"sync"
	"time"

	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/session"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// stubStructured returns a canned reply and records requests.
type stubStructured struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []capability.StructuredRequest
}

func (s *stubStructured) GenerateJSON(ctx context.Context, req capability.StructuredRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.reply, s.err
}

func (s *stubStructured) last() capability.StructuredRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func emptySession() *session.Session {
	return session.New("s", testNow)
}

func imageSession() *session.Session {
	s := session.New("s", testNow)
	_ = s.Apply(session.Turn{
		ID:      "t1",
		Input:   "draw a cat",
		Intent:  session.IntentImage,
		Action:  session.ActionGenerate,
		Content: session.ImageContent(session.AssetRef{Key: "image_1.png", URL: "/outputs/image_1.png"}),
	})
	return s
}

func videoSession() *session.Session {
	s := session.New("s", testNow)
	_ = s.Apply(session.Turn{
		ID:      "t1",
		Input:   "a video of a city",
		Intent:  session.IntentVideo,
		Action:  session.ActionGenerate,
		Content: session.VideoContent(session.VideoRef{JobID: "video_1", Asset: session.AssetRef{Key: "video_1.mp4", URL: "/outputs/video_1.mp4"}}),
	})
	return s
}
