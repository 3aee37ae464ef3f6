// Package session holds per-conversation state: the ordered turn history and
// the reference to the last generated image or video.
//
// Invariants:
// - LastIntent equals the content type of the most recent turn, or none.
// - LastImage is set iff LastIntent is image; LastVideo iff it is video.
// - History is append-only, in arrival order of completed turns.
// - Stores hand out and accept deep copies; callers never alias stored state.
//
// Usage:
//
//	store := session.NewMemoryStore(session.MemoryOptions{})
//	s, _ := store.GetOrCreate(ctx, "")
//	_ = s.Apply(turn)
//	_ = store.Save(ctx, s)
package session
