package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/session"
	"go.opentelemetry.io/otel/attribute"
)

var (
	videoKeywords = []string{"video", "videos", "animation", "animate", "animated", "clip", "clips", "movie", "film", "sora"}
	imageKeywords = []string{
		"draw", "drawing", "image", "images", "picture", "pic", "photo", "logo", "poster",
		"art", "artwork", "illustration", "illustrate", "painting", "sketch", "render", "wallpaper",
	}

	secondsPattern = regexp.MustCompile(`\b(4|8|12)[ -]?(?:s|sec|secs|second|seconds)\b`)
	sizePattern    = regexp.MustCompile(`\b(720x1280|1280x720|1024x1792|1792x1024)\b`)
	stylePattern   = regexp.MustCompile(`\bin (?:an? |the )?([a-z][a-z -]{1,30}?) style\b`)
)

// KeywordClassifier is an offline classifier built on keyword matching. It
// is deterministic and never degrades.
type KeywordClassifier struct {
	rules *RuleSet
}

// NewKeywordClassifier creates a keyword classifier.
func NewKeywordClassifier(rules *RuleSet) *KeywordClassifier {
	return &KeywordClassifier{rules: rules}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(ctx context.Context, message string, snapshot *session.Session) Result {
	_, span := tracing.StartSpan(ctx, "mosaic.intent", "intent.classify_keyword")
	defer span.End()

	r := Result{Instruction: message, Intent: keywordIntent(message)}
	r.Style, r.Seconds, r.Size = hints(message)

	r = finish(r, message, snapshot, k.rules.Load())
	span.SetAttributes(
		attribute.String("intent", string(r.Intent)),
		attribute.String("judgment", string(r.Judgment)),
	)
	return r
}

// keywordIntent picks video before image so "animate a drawing" is a video.
func keywordIntent(message string) session.Intent {
	tokens := tokenize(message)
	has := func(words []string) bool {
		for _, tok := range tokens {
			for _, w := range words {
				if tok == w {
					return true
				}
			}
		}
		return false
	}

	switch {
	case has(videoKeywords):
		return session.IntentVideo
	case has(imageKeywords):
		return session.IntentImage
	default:
		return session.IntentText
	}
}

// hints extracts style, clip length and resolution mentioned in the message.
func hints(message string) (style string, seconds int, size string) {
	lower := strings.ToLower(message)
	if m := stylePattern.FindStringSubmatch(lower); m != nil {
		style = strings.TrimSpace(m[1])
	}
	if m := secondsPattern.FindStringSubmatch(lower); m != nil {
		seconds, _ = strconv.Atoi(m[1])
	}
	if m := sizePattern.FindStringSubmatch(lower); m != nil {
		size = m[1]
	}
	switch {
	case size != "":
	case strings.Contains(lower, "landscape") || strings.Contains(lower, "widescreen"):
		size = "1280x720"
	case strings.Contains(lower, "portrait") || strings.Contains(lower, "vertical"):
		size = "720x1280"
	}
	return style, seconds, size
}
