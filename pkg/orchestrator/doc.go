// Package orchestrator runs one conversational turn: it classifies the
// message, plans an action from the session's modality context, calls the
// matching capability and commits the result.
//
// Invariants:
// - Turns of one session run one at a time, in submission order.
// - A turn commits with exactly one store Save; a failed turn saves nothing
//   and leaves the session exactly as it was.
// - A refinement of an active image or video edits or remixes it; anything
//   else generates fresh.
//
// State machine per session, keyed by LastIntent:
//
//	none  --any-->                       first intent decides
//	text  --text-->                      chat with history
//	text  --image|video-->               fresh generation
//	image --image, refinement-->         edit LastImage
//	image --image, new request-->        generate
//	video --video, refinement-->         remix LastVideo
//	video --video, new request-->        generate
//	image|video --other intent-->        switch, other reference cleared
package orchestrator
