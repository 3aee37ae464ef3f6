package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/commandqueue"
	"github.com/harun/mosaic/pkg/intent"
	"github.com/harun/mosaic/pkg/moderation"
	"github.com/harun/mosaic/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultHistoryWindow = 20
	DefaultVideoSeconds  = 4
	DefaultVideoSize     = "720x1280"

	queueWarnAfter = 5 * time.Second
)

// Publisher receives every committed turn.
type Publisher interface {
	Publish(sessionID string, turn session.Turn)
}

// Request is one inbound message.
type Request struct {
	SessionID string
	Text      string
	// RequestID makes the call idempotent: a repeat replays the first result.
	RequestID string
}

// Result is a committed turn.
type Result struct {
	SessionID string
	Turn      session.Turn
	Degraded  bool
	Replayed  bool
}

// Orchestrator runs turns against a session store and a capability set.
type Orchestrator struct {
	store      session.Store
	classifier intent.Classifier
	caps       capability.Set
	queue      *commandqueue.CommandQueue

	filter        *moderation.ContentFilter
	publisher     Publisher
	historyWindow int
	videoSeconds  int
	videoSize     string
	now           func() time.Time
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithModeration screens prompts and text replies.
func WithModeration(f *moderation.ContentFilter) Option {
	return func(o *Orchestrator) {
		o.filter = f
	}
}

// WithPublisher sets who is told about committed turns.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithHistoryWindow bounds how many past turns text generation sees.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		o.historyWindow = n
	}
}

// WithVideoDefaults sets the clip length and size used when the message
// does not ask for one.
func WithVideoDefaults(seconds int, size string) Option {
	return func(o *Orchestrator) {
		if seconds > 0 {
			o.videoSeconds = seconds
		}
		if size != "" {
			o.videoSize = size
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator.
func New(store session.Store, classifier intent.Classifier, caps capability.Set, queue *commandqueue.CommandQueue, opts ...Option) *Orchestrator {
	observability.EnsureRegistered()

	o := &Orchestrator{
		store:         store,
		classifier:    classifier,
		caps:          caps,
		queue:         queue,
		historyWindow: DefaultHistoryWindow,
		videoSeconds:  DefaultVideoSeconds,
		videoSize:     DefaultVideoSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleMessage runs one turn. Input problems (ErrEmptyMessage,
// session.ErrInvalidSessionID, moderation.ErrBlocked) are returned before
// any session work. A failed turn returns *TurnError and leaves the session
// unchanged.
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) (*Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := session.ValidateID(req.SessionID); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		minted, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to mint session id: %w", err)
		}
		sessionID = minted.String()
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	if req.RequestID != "" {
		ctx = tracing.WithRequestID(ctx, req.RequestID)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := o.filter.CheckPrompt(text); err != nil {
		observability.RecordTurnAudit(ctx, sessionID, "moderation", "blocked", map[string]interface{}{
			"stage":  "prompt",
			"reason": err.Error(),
		})
		logger.Warn().Err(err).Msg("Prompt rejected by moderation")
		return nil, err
	}

	value, replayed, err := o.queue.EnqueueOnce(ctx, commandqueue.SessionLane(sessionID), req.RequestID,
		func(ctx context.Context) (interface{}, error) {
			return o.runTurn(ctx, sessionID, text)
		},
		&commandqueue.TaskOptions{WarnAfter: queueWarnAfter},
	)
	if err != nil {
		var te *TurnError
		if errors.As(err, &te) {
			return nil, err
		}
		// Panics and shutdown never reach runTurn's commit.
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Err: err}
	}

	res, ok := value.(*Result)
	if !ok {
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Err: fmt.Errorf("unexpected turn result type %T", value)}
	}
	if replayed {
		out := *res
		out.Replayed = true
		return &out, nil
	}
	return res, nil
}

// runTurn executes inside the session's lane.
func (o *Orchestrator) runTurn(ctx context.Context, sessionID, text string) (*Result, error) {
	turnID, err := gonanoid.New()
	if err != nil {
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Err: fmt.Errorf("failed to mint turn id: %w", err)}
	}
	ctx = tracing.WithTurnID(ctx, turnID)

	ctx, span := tracing.StartSpan(ctx, "mosaic.orchestrator", "orchestrator.turn",
		attribute.String("session_id", sessionID),
		attribute.String("turn_id", turnID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()

	snap, err := o.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Err: err}
	}

	classified := o.classifier.Classify(ctx, text, snap)
	action := Plan(snap, classified)
	span.SetAttributes(
		attribute.String("intent", string(classified.Intent)),
		attribute.String("judgment", string(classified.Judgment)),
		attribute.String("action", string(action)),
		attribute.Bool("degraded", classified.Degraded),
	)

	logger.Info().
		Str("intent", string(classified.Intent)).
		Str("judgment", string(classified.Judgment)).
		Str("action", string(action)).
		Str("last_intent", string(snap.LastIntent)).
		Msg("Turn planned")

	content, err := o.dispatch(ctx, snap, classified, action)
	if err != nil {
		tracing.RecordError(span, err)
		observability.RecordTurn(string(classified.Intent), string(action), time.Since(start), false)
		observability.RecordTurnAudit(ctx, sessionID, string(action), "failed", map[string]interface{}{
			"intent": string(classified.Intent),
			"error":  err.Error(),
		})
		logger.Error().Err(err).Str("action", string(action)).Msg("Turn failed")
		return nil, &TurnError{
			Kind:      KindAdapter,
			SessionID: sessionID,
			Intent:    classified.Intent,
			Action:    action,
			Err:       err,
		}
	}

	turn := session.Turn{
		ID:          turnID,
		Input:       text,
		Instruction: classified.Instruction,
		Intent:      classified.Intent,
		Action:      action,
		Content:     content,
		CreatedAt:   o.now().UTC(),
	}
	switch turn.Intent {
	case session.IntentImage:
		turn.Style = classified.Style
	case session.IntentVideo:
		turn.Seconds, turn.Size = o.videoParams(classified)
	}
	if err := snap.Apply(turn); err != nil {
		tracing.RecordError(span, err)
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Intent: turn.Intent, Action: action, Err: err}
	}
	if err := o.store.Save(ctx, snap); err != nil {
		tracing.RecordError(span, err)
		return nil, &TurnError{Kind: KindInternal, SessionID: sessionID, Intent: turn.Intent, Action: action, Err: err}
	}

	duration := time.Since(start)
	observability.RecordTurn(string(turn.Intent), string(action), duration, true)

	metadata := map[string]interface{}{
		"turn_id":  turnID,
		"intent":   string(turn.Intent),
		"judgment": string(classified.Judgment),
		"degraded": classified.Degraded,
	}
	if turn.Content.Asset != nil {
		metadata["asset"] = turn.Content.Asset.Key
	}
	observability.RecordTurnAudit(ctx, sessionID, string(action), "committed", metadata)

	if o.publisher != nil {
		o.publisher.Publish(sessionID, turn)
	}

	logger.Info().
		Str("intent", string(turn.Intent)).
		Str("action", string(action)).
		Dur("duration", duration).
		Int("turns", len(snap.History)).
		Msg("Turn committed")

	return &Result{SessionID: sessionID, Turn: turn, Degraded: classified.Degraded}, nil
}

// dispatch calls the capability chosen by action. It never touches snap.
func (o *Orchestrator) dispatch(ctx context.Context, snap *session.Session, r intent.Result, action session.Action) (session.Content, error) {
	switch action {
	case session.ActionChat:
		return o.chat(ctx, snap, r)
	case session.ActionGenerate, session.ActionEdit:
		if r.Intent == session.IntentImage {
			return o.image(ctx, snap, r, action)
		}
		return o.video(ctx, snap, r, action)
	case session.ActionRemix:
		return o.video(ctx, snap, r, action)
	default:
		return session.Content{}, fmt.Errorf("unknown action %q", action)
	}
}

func (o *Orchestrator) chat(ctx context.Context, snap *session.Session, r intent.Result) (session.Content, error) {
	if o.caps.Text == nil {
		return session.Content{}, &capability.Error{Capability: "text", Op: "generate", Err: errors.New("no text engine configured")}
	}

	msgs := append(History(snap, o.historyWindow), capability.Message{
		Role:    capability.RoleUser,
		Content: r.Instruction,
	})
	reply, err := o.caps.Text.TextGenerate(ctx, msgs)
	if err != nil {
		return session.Content{}, err
	}
	if strings.TrimSpace(reply) == "" {
		return session.Content{}, &capability.Error{Capability: "text", Op: "generate", Err: errors.New("empty reply")}
	}
	if err := o.filter.CheckResponse(reply); err != nil {
		observability.RecordTurnAudit(ctx, snap.ID, "moderation", "blocked", map[string]interface{}{
			"stage":  "response",
			"reason": err.Error(),
		})
		return session.Content{}, &capability.Error{Capability: "text", Op: "moderation", Err: err}
	}
	return session.TextContent(reply), nil
}

func (o *Orchestrator) image(ctx context.Context, snap *session.Session, r intent.Result, action session.Action) (session.Content, error) {
	if o.caps.Image == nil {
		return session.Content{}, &capability.Error{Capability: "image", Op: string(action), Err: errors.New("no image engine configured")}
	}

	req := capability.ImageRequest{Prompt: r.Instruction, Style: r.Style}

	var (
		asset capability.Asset
		err   error
	)
	if action == session.ActionEdit {
		asset, err = o.caps.Image.ImageEdit(ctx, toAsset(*snap.LastImage), req)
	} else {
		asset, err = o.caps.Image.ImageGenerate(ctx, req)
	}
	if err != nil {
		return session.Content{}, err
	}
	return session.ImageContent(toRef(asset)), nil
}

func (o *Orchestrator) video(ctx context.Context, snap *session.Session, r intent.Result, action session.Action) (session.Content, error) {
	if o.caps.Video == nil {
		return session.Content{}, &capability.Error{Capability: "video", Op: string(action), Err: errors.New("no video engine configured")}
	}

	req := capability.VideoRequest{Prompt: r.Instruction}
	req.Seconds, req.Size = o.videoParams(r)

	var (
		video capability.Video
		err   error
	)
	if action == session.ActionRemix {
		last := snap.LastVideo
		video, err = o.caps.Video.VideoRemix(ctx, capability.Video{JobID: last.JobID, Asset: toAsset(last.Asset)}, req)
	} else {
		video, err = o.caps.Video.VideoGenerate(ctx, req)
	}
	if err != nil {
		return session.Content{}, err
	}
	return session.VideoContent(session.VideoRef{JobID: video.JobID, Asset: toRef(video.Asset)}), nil
}

// videoParams fills the classifier's video hints with configured defaults.
func (o *Orchestrator) videoParams(r intent.Result) (int, string) {
	seconds, size := r.Seconds, r.Size
	if seconds == 0 {
		seconds = o.videoSeconds
	}
	if size == "" {
		size = o.videoSize
	}
	return seconds, size
}

// Transcribe converts audio to text. It is not tied to a session; the
// transcribe lane bounds how many run at once.
func (o *Orchestrator) Transcribe(ctx context.Context, audio capability.Audio) (string, error) {
	if o.caps.Transcriber == nil {
		return "", &capability.Error{Capability: "transcribe", Op: "transcribe", Err: errors.New("no transcription engine configured")}
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}

	value, err := o.queue.Enqueue(ctx, commandqueue.TranscribeLane, func(ctx context.Context) (interface{}, error) {
		return o.caps.Transcriber.Transcribe(ctx, audio)
	}, nil)
	if err != nil {
		return "", err
	}
	text, _ := value.(string)
	return strings.TrimSpace(text), nil
}

func toAsset(ref session.AssetRef) capability.Asset {
	return capability.Asset{Key: ref.Key, URL: ref.URL, MIME: ref.MIME}
}

func toRef(a capability.Asset) session.AssetRef {
	return session.AssetRef{Key: a.Key, URL: a.URL, MIME: a.MIME}
}
