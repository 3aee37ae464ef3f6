package capability

import (
	"context"
	"time"

	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// Timeouts bounds each capability call. Zero means no extra bound.
type Timeouts struct {
	Structured time.Duration
	Text       time.Duration
	Image      time.Duration
	Video      time.Duration
	Transcribe time.Duration
}

// Guard wraps every engine in s with its timeout, a span, call metrics and
// *Error wrapping. Nil engines stay nil.
func Guard(s Set, t Timeouts) Set {
	out := Set{}
	if s.Text != nil {
		out.Text = guardedText{next: s.Text, timeout: t.Text}
	}
	if s.Image != nil {
		out.Image = guardedImage{next: s.Image, timeout: t.Image}
	}
	if s.Video != nil {
		out.Video = guardedVideo{next: s.Video, timeout: t.Video}
	}
	if s.Transcriber != nil {
		out.Transcriber = guardedTranscriber{next: s.Transcriber, timeout: t.Transcribe}
	}
	if s.Structured != nil {
		out.Structured = guardedStructured{next: s.Structured, timeout: t.Structured}
	}
	return out
}

func call(ctx context.Context, capability, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "mosaic.capability", capability+"."+op,
		attribute.String("capability", capability),
		attribute.String("operation", op),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	observability.RecordCapabilityCall(capability, op, time.Since(start), err == nil)

	if err != nil {
		err = wrap(capability, op, err)
		tracing.RecordError(span, err)
	}
	return err
}

type guardedText struct {
	next    TextGenerator
	timeout time.Duration
}

func (g guardedText) TextGenerate(ctx context.Context, messages []Message) (string, error) {
	var out string
	err := call(ctx, "text", "generate", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.TextGenerate(ctx, messages)
		return err
	})
	return out, err
}

type guardedImage struct {
	next    ImageGenerator
	timeout time.Duration
}

func (g guardedImage) ImageGenerate(ctx context.Context, req ImageRequest) (Asset, error) {
	var out Asset
	err := call(ctx, "image", "generate", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.ImageGenerate(ctx, req)
		return err
	})
	return out, err
}

func (g guardedImage) ImageEdit(ctx context.Context, base Asset, req ImageRequest) (Asset, error) {
	var out Asset
	err := call(ctx, "image", "edit", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.ImageEdit(ctx, base, req)
		return err
	})
	return out, err
}

type guardedVideo struct {
	next    VideoGenerator
	timeout time.Duration
}

func (g guardedVideo) VideoGenerate(ctx context.Context, req VideoRequest) (Video, error) {
	var out Video
	err := call(ctx, "video", "generate", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.VideoGenerate(ctx, req)
		return err
	})
	return out, err
}

func (g guardedVideo) VideoRemix(ctx context.Context, base Video, req VideoRequest) (Video, error) {
	var out Video
	err := call(ctx, "video", "remix", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.VideoRemix(ctx, base, req)
		return err
	})
	return out, err
}

type guardedTranscriber struct {
	next    Transcriber
	timeout time.Duration
}

func (g guardedTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	var out string
	err := call(ctx, "transcribe", "transcribe", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.Transcribe(ctx, audio)
		return err
	})
	return out, err
}

type guardedStructured struct {
	next    StructuredGenerator
	timeout time.Duration
}

func (g guardedStructured) GenerateJSON(ctx context.Context, req StructuredRequest) (string, error) {
	var out string
	err := call(ctx, "structured", "generate", g.timeout, func(ctx context.Context) error {
		var err error
		out, err = g.next.GenerateJSON(ctx, req)
		return err
	})
	return out, err
}
