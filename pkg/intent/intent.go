package intent

import (
	"context"
	"strings"

	"github.com/harun/mosaic/internal/observability"
	"github.com/harun/mosaic/pkg/session"
)

// Judgment says whether a message modifies the last result or starts over.
type Judgment string

const (
	Refinement Judgment = "refinement"
	NewRequest Judgment = "new_request"
)

// Result is the outcome of classifying one message.
type Result struct {
	Intent      session.Intent
	Instruction string
	Judgment    Judgment

	// Optional generation hints. Zero values mean "use the default".
	Style   string
	Seconds int
	Size    string

	// Degraded is set when the classifier fell back to text.
	Degraded bool
}

// Classifier maps a message onto a Result. Implementations must not modify
// snapshot and must always return one of the three modalities.
type Classifier interface {
	Classify(ctx context.Context, message string, snapshot *session.Session) Result
}

// degraded is the fail-closed result.
func degraded(message string) Result {
	return Result{
		Intent:      session.IntentText,
		Instruction: message,
		Judgment:    NewRequest,
		Degraded:    true,
	}
}

// hasMediaContext reports whether the session has an edit target.
func hasMediaContext(snapshot *session.Session) bool {
	if snapshot == nil {
		return false
	}
	switch snapshot.LastIntent {
	case session.IntentImage:
		return snapshot.LastImage != nil
	case session.IntentVideo:
		return snapshot.LastVideo != nil
	default:
		return false
	}
}

// finish applies the refinement rules to a picked intent. A refinement of an
// active image or video inherits that modality unless the classifier
// explicitly asked for the other media type.
func finish(r Result, message string, snapshot *session.Session, rules *Rules) Result {
	switch r.Intent {
	case session.IntentText, session.IntentImage, session.IntentVideo:
	default:
		r.Intent = session.IntentText
	}
	if strings.TrimSpace(r.Instruction) == "" {
		r.Instruction = message
	}

	r.Judgment = rules.Judge(message)
	if r.Judgment == Refinement && hasMediaContext(snapshot) && !r.Degraded {
		if r.Intent == session.IntentText {
			r.Intent = snapshot.LastIntent
		}
	}

	if r.Intent != session.IntentImage {
		r.Style = ""
	}
	if r.Intent != session.IntentVideo {
		r.Seconds = 0
		r.Size = ""
	}

	observability.RecordClassification(string(r.Intent), string(r.Judgment))
	return r
}

// contextLines renders the last n history lines as "role: content".
func contextLines(snapshot *session.Session, n int) []string {
	if snapshot == nil || n <= 0 {
		return nil
	}
	var lines []string
	for _, turn := range snapshot.History {
		lines = append(lines, "user: "+turn.Input, "assistant: "+turn.Reply())
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
