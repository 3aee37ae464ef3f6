// Package server exposes the router over HTTP.
//
// Routes:
//
//	POST /api/message                  send a message, get the committed turn
//	POST /api/transcribe               multipart "file" -> {"text": ...}
//	GET  /api/sessions/:id/messages    timeline of a session
//	GET  /api/sessions/:id/stream      websocket of new timeline entries
//	GET  /health
//	GET  /metrics
//	GET  /outputs/*                    generated assets (local backend only)
//
// Input problems are 400, engine failures 502 (504 on timeout), anything
// else 500. Sessions are never modified by a failed request.
package server
