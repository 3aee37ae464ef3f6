// Package capability defines the generation engines mosaic dispatches to:
// text, image, video, transcription and structured JSON output. Engines are
// opaque request/response services; every failure they produce is reported
// as a *Error that matches ErrUnavailable.
//
// Implementations:
//   - OpenAI: text, structured output, images (generate + edit), Sora video
//     (generate + remix, polled to completion) and Whisper transcription
//   - Anthropic: text
//   - Gemini: text
//
// Guard wraps a Set with per-capability timeouts, spans and metrics.
package capability
