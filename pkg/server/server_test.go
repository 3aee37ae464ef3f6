package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/conversation"
	"github.com/harun/mosaic/pkg/moderation"
	"github.com/harun/mosaic/pkg/orchestrator"
	"github.com/harun/mosaic/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeTurns answers from canned values and records the last request.
type fakeTurns struct {
	result   *orchestrator.Result
	err      error
	text     string
	last     orchestrator.Request
	lastFile string
	lastBody string
}

func (f *fakeTurns) HandleMessage(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTurns) Transcribe(ctx context.Context, audio capability.Audio) (string, error) {
	f.lastFile = audio.Filename
	data, _ := io.ReadAll(audio.Data)
	f.lastBody = string(data)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestServer(t *testing.T, turns *fakeTurns, mutate ...func(*Config)) (*Server, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(session.MemoryOptions{})
	cfg := Config{
		Addr:        "127.0.0.1:0",
		CORSOrigins: []string{"http://localhost:5173"},
		Turns:       turns,
		Store:       store,
		Hub:         conversation.NewHub(0, zerolog.Nop()),
		Logger:      zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, store
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{Store: session.NewMemoryStore(session.MemoryOptions{})})
	assert.Error(t, err)
	_, err = New(Config{Turns: &fakeTurns{}})
	assert.Error(t, err)
}

func TestHandleMessage_Replies(t *testing.T) {
	tests := []struct {
		name string
		turn session.Turn
		want map[string]any
	}{
		{
			name: "text",
			turn: session.Turn{Intent: session.IntentText, Content: session.TextContent("a haiku")},
			want: map[string]any{"session_id": "s1", "intent": "text", "content_type": "text", "text": "a haiku"},
		},
		{
			name: "image",
			turn: session.Turn{Intent: session.IntentImage, Content: session.ImageContent(session.AssetRef{Key: "image_1.png", URL: "/outputs/image_1.png"})},
			want: map[string]any{"session_id": "s1", "intent": "image", "content_type": "image", "asset_url": "/outputs/image_1.png"},
		},
		{
			name: "video",
			turn: session.Turn{Intent: session.IntentVideo, Content: session.VideoContent(session.VideoRef{JobID: "video_1", Asset: session.AssetRef{Key: "video_1.mp4", URL: "/outputs/video_1.mp4"}})},
			want: map[string]any{"session_id": "s1", "intent": "video", "content_type": "video", "asset_url": "/outputs/video_1.mp4"},
		},
		{
			name: "video with debug",
			turn: session.Turn{
				Instruction: "waves at dusk",
				Seconds:     8,
				Size:        "1280x720",
				Intent:      session.IntentVideo,
				Content:     session.VideoContent(session.VideoRef{JobID: "video_2", Asset: session.AssetRef{Key: "video_2.mp4", URL: "/outputs/video_2.mp4"}}),
			},
			want: map[string]any{
				"session_id": "s1", "intent": "video", "content_type": "video", "asset_url": "/outputs/video_2.mp4",
				"debug": map[string]any{"routed_prompt": "waves at dusk", "seconds": float64(8), "size": "1280x720"},
			},
		},
		{
			name: "image with debug",
			turn: session.Turn{
				Instruction: "a castle",
				Style:       "pixel art",
				Intent:      session.IntentImage,
				Content:     session.ImageContent(session.AssetRef{Key: "image_2.png", URL: "/outputs/image_2.png"}),
			},
			want: map[string]any{
				"session_id": "s1", "intent": "image", "content_type": "image", "asset_url": "/outputs/image_2.png",
				"debug": map[string]any{"routed_prompt": "a castle", "style": "pixel art"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turns := &fakeTurns{result: &orchestrator.Result{SessionID: "s1", Turn: tt.turn}}
			s, _ := newTestServer(t, turns)

			w := postJSON(t, s.Handler(), "/api/message", `{"session_id":"s1","text":"hello","request_id":"r1"}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.want, decode[map[string]any](t, w))
			assert.Equal(t, orchestrator.Request{SessionID: "s1", Text: "hello", RequestID: "r1"}, turns.last)
			assert.NotEmpty(t, w.Header().Get(requestIDHeader))
		})
	}
}

func TestHandleMessage_NullSessionID(t *testing.T) {
	turns := &fakeTurns{result: &orchestrator.Result{SessionID: "minted", Turn: session.Turn{Intent: session.IntentText, Content: session.TextContent("hi")}}}
	s, _ := newTestServer(t, turns)

	w := postJSON(t, s.Handler(), "/api/message", `{"session_id":null,"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", turns.last.SessionID)
	assert.Equal(t, "minted", decode[map[string]any](t, w)["session_id"])
}

func TestHandleMessage_ErrorStatus(t *testing.T) {
	adapter := &orchestrator.TurnError{
		Kind: orchestrator.KindAdapter,
		Err:  &capability.Error{Capability: "image", Op: "edit", Err: fmt.Errorf("boom")},
	}
	timeout := &orchestrator.TurnError{
		Kind: orchestrator.KindAdapter,
		Err:  &capability.Error{Capability: "video", Op: "remix", Err: context.DeadlineExceeded},
	}
	blockedReply := &orchestrator.TurnError{
		Kind: orchestrator.KindAdapter,
		Err:  &capability.Error{Capability: "text", Op: "moderation", Err: moderation.ErrBlocked},
	}
	internal := &orchestrator.TurnError{Kind: orchestrator.KindInternal, Err: fmt.Errorf("panic")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty message", orchestrator.ErrEmptyMessage, http.StatusBadRequest},
		{"invalid session", fmt.Errorf("%w: too long", session.ErrInvalidSessionID), http.StatusBadRequest},
		{"blocked prompt", fmt.Errorf("%w: term", moderation.ErrBlocked), http.StatusBadRequest},
		{"adapter failure", adapter, http.StatusBadGateway},
		{"adapter timeout", timeout, http.StatusGatewayTimeout},
		{"blocked reply", blockedReply, http.StatusBadGateway},
		{"internal", internal, http.StatusInternalServerError},
		{"unknown", fmt.Errorf("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeTurns{err: tt.err})
			w := postJSON(t, s.Handler(), "/api/message", `{"session_id":"s1","text":"hello"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, decode[errorResponse](t, w).Error)
		})
	}
}

func TestHandleMessage_MalformedJSON(t *testing.T) {
	turns := &fakeTurns{}
	s, _ := newTestServer(t, turns)

	w := postJSON(t, s.Handler(), "/api/message", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, orchestrator.Request{}, turns.last)
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandleTranscribe(t *testing.T) {
	turns := &fakeTurns{text: "hello world"}
	s, _ := newTestServer(t, turns)

	body, contentType := multipartBody(t, "file", "clip.webm", "audio-bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, TranscribeResponse{Text: "hello world"}, decode[TranscribeResponse](t, w))
	assert.Equal(t, "clip.webm", turns.lastFile)
	assert.Equal(t, "audio-bytes", turns.lastBody)
}

func TestHandleTranscribe_Errors(t *testing.T) {
	t.Run("missing file field", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeTurns{})
		body, contentType := multipartBody(t, "audio", "clip.webm", "x")
		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeTurns{})
		w := postJSON(t, s.Handler(), "/api/transcribe", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("engine failure", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeTurns{err: &capability.Error{Capability: "transcribe", Op: "transcribe", Err: fmt.Errorf("down")}})
		body, contentType := multipartBody(t, "file", "clip.webm", "x")
		req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleTimeline(t *testing.T) {
	s, store := newTestServer(t, &fakeTurns{})
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, sess.Apply(session.Turn{
		ID: "t1", Input: "draw a cat", Intent: session.IntentImage, Action: session.ActionGenerate,
		Content:   session.ImageContent(session.AssetRef{Key: "image_1.png", URL: "/outputs/image_1.png"}),
		CreatedAt: testNow,
	}))
	require.NoError(t, store.Save(ctx, sess))

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/messages", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	got := decode[TimelineResponse](t, w)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, session.IntentImage, got.LastIntent)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "draw a cat", got.Messages[0].Text)
	assert.Equal(t, "/outputs/image_1.png", got.Messages[1].AssetURL)
}

func TestHandleTimeline_Errors(t *testing.T) {
	s, _ := newTestServer(t, &fakeTurns{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/unknown/messages", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/a..b/messages", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeTurns{})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mosaic_http_requests_total")
}

func TestOutputsAreServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image_1.png"), []byte("png"), 0o644))
	s, _ := newTestServer(t, &fakeTurns{}, func(c *Config) { c.OutputsDir = dir })

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/outputs/image_1.png", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, &fakeTurns{})

	req := httptest.NewRequest(http.MethodOptions, "/api/message", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/message", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	s, _ := newTestServer(t, &fakeTurns{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/s1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Count("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	s.hub.Publish("s1", session.Turn{
		ID: "t1", Input: "hi", Intent: session.IntentText, Action: session.ActionChat,
		Content: session.TextContent("hello"), CreatedAt: testNow,
	})

	var user, assistant conversation.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&user))
	require.NoError(t, conn.ReadJSON(&assistant))

	assert.Equal(t, conversation.EventTimelineEntry, user.Event)
	assert.Equal(t, "hi", user.Entry.Text)
	assert.Equal(t, conversation.RoleAssistant, assistant.Entry.Role)
	assert.Equal(t, "hello", assistant.Entry.Text)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.hub.Count("s1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestServer(t, &fakeTurns{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
