package orchestrator

import (
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/session"
)

// History maps the last window turns onto chat messages. Media turns add an
// assistant note with the asset URL so the model knows what was produced.
// window <= 0 means the whole history.
func History(snapshot *session.Session, window int) []capability.Message {
	if snapshot == nil {
		return nil
	}
	turns := snapshot.Recent(window)
	msgs := make([]capability.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			capability.Message{Role: capability.RoleUser, Content: t.Input},
			capability.Message{Role: capability.RoleAssistant, Content: t.Reply()},
		)
	}
	return msgs
}
