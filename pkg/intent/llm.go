package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/session"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultContextLines = 6

const routerSystemPrompt = `You are an intent router for a multimodal assistant.
Decide whether the user wants TEXT, IMAGE (art), or VIDEO output.
Return a decision with:
- intent: one of text|image|video
- prompt: a clean standalone prompt for the generator
- seconds, size only if intent=video, otherwise null
- style only if intent=image and it helps, otherwise null
Rules:
- If the user asks to draw, generate an image, a logo, a poster or art, pick image.
- If the user asks for a video, animation, clip or Sora, pick video.
- Otherwise pick text.
- If the user is refining the previous output (e.g. "make it more realistic"), keep the intent the conversation suggests.`

// LLMOptions configures an LLMClassifier.
type LLMOptions struct {
	// ContextLines is how many recent history lines the router sees.
	ContextLines int
}

// LLMClassifier asks a structured-output model to route the message.
type LLMClassifier struct {
	gen          capability.StructuredGenerator
	rules        *RuleSet
	contextLines int
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(gen capability.StructuredGenerator, rules *RuleSet, opts LLMOptions) *LLMClassifier {
	if opts.ContextLines <= 0 {
		opts.ContextLines = DefaultContextLines
	}
	return &LLMClassifier{gen: gen, rules: rules, contextLines: opts.ContextLines}
}

// Classify implements Classifier. Any failure degrades to text.
func (c *LLMClassifier) Classify(ctx context.Context, message string, snapshot *session.Session) Result {
	ctx, span := tracing.StartSpan(ctx, "mosaic.intent", "intent.classify_llm")
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	d, reason, err := c.route(ctx, message, snapshot)
	if err != nil {
		tracing.RecordError(span, err)
		observability.RecordClassificationFallback(reason)
		logger.Warn().Err(err).Str("reason", reason).Msg("Intent classification degraded to text")

		r := degraded(message)
		r.Judgment = c.rules.Load().Judge(message)
		observability.RecordClassification(string(r.Intent), string(r.Judgment))
		span.SetAttributes(attribute.Bool("degraded", true))
		return r
	}

	r := Result{
		Intent:      session.Intent(d.Intent),
		Instruction: strings.TrimSpace(d.Prompt),
		Style:       strings.TrimSpace(d.Style),
		Size:        d.Size,
	}
	if d.Seconds != "" {
		r.Seconds, _ = strconv.Atoi(d.Seconds)
	}

	r = finish(r, message, snapshot, c.rules.Load())
	span.SetAttributes(
		attribute.String("intent", string(r.Intent)),
		attribute.String("judgment", string(r.Judgment)),
	)
	logger.Debug().
		Str("intent", string(r.Intent)).
		Str("judgment", string(r.Judgment)).
		Msg("Message classified")
	return r
}

// route calls the model and turns its reply into a decision. On failure it
// also returns a short reason used as a metric label.
func (c *LLMClassifier) route(ctx context.Context, message string, snapshot *session.Session) (decision, string, error) {
	schema, validator, err := decisionSchemas()
	if err != nil {
		return decision{}, "schema", err
	}

	convo := "(none)"
	if lines := contextLines(snapshot, c.contextLines); len(lines) > 0 {
		convo = strings.Join(lines, "\n")
	}

	raw, err := c.gen.GenerateJSON(ctx, capability.StructuredRequest{
		Name:        "route_decision",
		Description: "Routing decision for one user message.",
		Schema:      schema,
		System:      routerSystemPrompt,
		Messages: []capability.Message{{
			Role:    capability.RoleUser,
			Content: fmt.Sprintf("Recent conversation:\n%s\n\nUser message:\n%s", convo, message),
		}},
	})
	if err != nil {
		return decision{}, "unavailable", err
	}

	doc, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return decision{}, "unparsable", fmt.Errorf("failed to repair router reply: %w", err)
	}
	if err := validate(validator, doc); err != nil {
		return decision{}, "invalid", err
	}

	var d decision
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return decision{}, "unparsable", fmt.Errorf("failed to decode router reply: %w", err)
	}
	return d, "", nil
}
