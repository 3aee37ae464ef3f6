package orchestrator

import (
	"github.com/harun/mosaic/pkg/intent"
	"github.com/harun/mosaic/pkg/session"
)

// Plan picks the action for a classified message given the session's
// current state. It is pure.
func Plan(snapshot *session.Session, r intent.Result) session.Action {
	switch r.Intent {
	case session.IntentImage:
		if r.Judgment == intent.Refinement && snapshot != nil &&
			snapshot.LastIntent == session.IntentImage && snapshot.LastImage != nil {
			return session.ActionEdit
		}
		return session.ActionGenerate
	case session.IntentVideo:
		if r.Judgment == intent.Refinement && snapshot != nil &&
			snapshot.LastIntent == session.IntentVideo && snapshot.LastVideo != nil {
			return session.ActionRemix
		}
		return session.ActionGenerate
	default:
		return session.ActionChat
	}
}
