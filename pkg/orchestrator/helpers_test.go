package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/commandqueue"
	"github.com/harun/mosaic/pkg/intent"
	"github.com/harun/mosaic/pkg/session"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var errEngine = errors.New("engine down")

// fakeEngines implements every capability and records what it was asked.
type fakeEngines struct {
	mu sync.Mutex

	textReply string
	textErr   error
	imageErr  error
	videoErr  error
	panicOn   string
	delay     time.Duration

	textCalls  [][]capability.Message
	imageCalls []string // "generate:<prompt>" or "edit:<base key>:<prompt>"
	videoCalls []string // "generate:<prompt>" or "remix:<job>:<prompt>"
	videoReqs  []capability.VideoRequest
	seq        int
}

func (f *fakeEngines) set() capability.Set {
	return capability.Set{Text: f, Image: f, Video: f, Transcriber: f}
}

func (f *fakeEngines) next() int {
	f.seq++
	return f.seq
}

func (f *fakeEngines) TextGenerate(ctx context.Context, messages []capability.Message) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == "text" {
		panic("text engine exploded")
	}
	f.textCalls = append(f.textCalls, append([]capability.Message(nil), messages...))
	if f.textErr != nil {
		return "", &capability.Error{Capability: "text", Op: "generate", Err: f.textErr}
	}
	if f.textReply != "" {
		return f.textReply, nil
	}
	return "reply to " + messages[len(messages)-1].Content, nil
}

func (f *fakeEngines) ImageGenerate(ctx context.Context, req capability.ImageRequest) (capability.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, "generate:"+req.Prompt)
	if f.imageErr != nil {
		return capability.Asset{}, &capability.Error{Capability: "image", Op: "generate", Err: f.imageErr}
	}
	key := fmt.Sprintf("image_%d.png", f.next())
	return capability.Asset{Key: key, URL: "/outputs/" + key, MIME: "image/png"}, nil
}

func (f *fakeEngines) ImageEdit(ctx context.Context, base capability.Asset, req capability.ImageRequest) (capability.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, "edit:"+base.Key+":"+req.Prompt)
	if f.imageErr != nil {
		return capability.Asset{}, &capability.Error{Capability: "image", Op: "edit", Err: f.imageErr}
	}
	key := fmt.Sprintf("image_%d.png", f.next())
	return capability.Asset{Key: key, URL: "/outputs/" + key, MIME: "image/png"}, nil
}

func (f *fakeEngines) VideoGenerate(ctx context.Context, req capability.VideoRequest) (capability.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls = append(f.videoCalls, "generate:"+req.Prompt)
	f.videoReqs = append(f.videoReqs, req)
	if f.videoErr != nil {
		return capability.Video{}, &capability.Error{Capability: "video", Op: "generate", Err: f.videoErr}
	}
	n := f.next()
	job := fmt.Sprintf("video_%d", n)
	return capability.Video{JobID: job, Asset: capability.Asset{Key: job + ".mp4", URL: "/outputs/" + job + ".mp4", MIME: "video/mp4"}}, nil
}

func (f *fakeEngines) VideoRemix(ctx context.Context, base capability.Video, req capability.VideoRequest) (capability.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls = append(f.videoCalls, "remix:"+base.JobID+":"+req.Prompt)
	f.videoReqs = append(f.videoReqs, req)
	if f.videoErr != nil {
		return capability.Video{}, &capability.Error{Capability: "video", Op: "remix", Err: f.videoErr}
	}
	n := f.next()
	job := fmt.Sprintf("video_%d", n)
	return capability.Video{JobID: job, Asset: capability.Asset{Key: job + ".mp4", URL: "/outputs/" + job + ".mp4", MIME: "video/mp4"}}, nil
}

func (f *fakeEngines) Transcribe(ctx context.Context, audio capability.Audio) (string, error) {
	return "  hello from " + audio.Filename + "  ", nil
}

// scriptedClassifier returns fixed results keyed by message, defaulting to text.
type scriptedClassifier map[string]intent.Result

func (s scriptedClassifier) Classify(ctx context.Context, message string, snapshot *session.Session) intent.Result {
	if r, ok := s[message]; ok {
		if r.Instruction == "" {
			r.Instruction = message
		}
		return r
	}
	return intent.Result{Intent: session.IntentText, Instruction: message, Judgment: intent.NewRequest}
}

// countingStore counts Saves on top of a MemoryStore.
type countingStore struct {
	*session.MemoryStore
	saves atomic.Int32
}

func (c *countingStore) Save(ctx context.Context, s *session.Session) error {
	c.saves.Add(1)
	return c.MemoryStore.Save(ctx, s)
}

// recordingPublisher collects published turns.
type recordingPublisher struct {
	mu    sync.Mutex
	turns []session.Turn
}

func (p *recordingPublisher) Publish(sessionID string, turn session.Turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns = append(p.turns, turn)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns)
}

type harness struct {
	orch    *Orchestrator
	store   *countingStore
	engines *fakeEngines
	pub     *recordingPublisher
}

func newHarness(t *testing.T, classifier intent.Classifier, opts ...Option) *harness {
	t.Helper()

	store := &countingStore{MemoryStore: session.NewMemoryStore(session.MemoryOptions{Now: func() time.Time { return testNow }})}
	queue := commandqueue.New(commandqueue.Options{})
	t.Cleanup(func() { _ = queue.Close() })

	engines := &fakeEngines{}
	pub := &recordingPublisher{}
	if classifier == nil {
		classifier = intent.NewKeywordClassifier(nil)
	}

	opts = append([]Option{WithPublisher(pub), WithClock(func() time.Time { return testNow })}, opts...)
	return &harness{
		orch:    New(store, classifier, engines.set(), queue, opts...),
		store:   store,
		engines: engines,
		pub:     pub,
	}
}

// seed commits a turn directly so a scenario starts from a known state.
func (h *harness) seed(t *testing.T, id string, turn session.Turn) {
	t.Helper()
	ctx := context.Background()
	s, err := h.store.GetOrCreate(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(turn); err != nil {
		t.Fatal(err)
	}
	if err := h.store.MemoryStore.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
}

func imageTurn(key, input string) session.Turn {
	return session.Turn{
		ID:          "seed-" + key,
		Input:       input,
		Instruction: input,
		Intent:      session.IntentImage,
		Action:      session.ActionGenerate,
		Content:     session.ImageContent(session.AssetRef{Key: key, URL: "/outputs/" + key}),
		CreatedAt:   testNow,
	}
}

func videoTurn(job, input string) session.Turn {
	return session.Turn{
		ID:          "seed-" + job,
		Input:       input,
		Instruction: input,
		Intent:      session.IntentVideo,
		Action:      session.ActionGenerate,
		Content: session.VideoContent(session.VideoRef{
			JobID: job,
			Asset: session.AssetRef{Key: job + ".mp4", URL: "/outputs/" + job + ".mp4"},
		}),
		CreatedAt: testNow,
	}
}

func textTurn(input, reply string) session.Turn {
	return session.Turn{
		ID:          "seed-" + input,
		Input:       input,
		Instruction: input,
		Intent:      session.IntentText,
		Action:      session.ActionChat,
		Content:     session.TextContent(reply),
		CreatedAt:   testNow,
	}
}
