// Package conversation renders sessions for clients.
//
// Timeline turns a session's history into the ordered user/assistant entries
// a chat view shows, NewReply shapes a single turn for the send-message
// response, and Hub fans newly committed turns out to live subscribers of a
// session. Nothing here mutates a session.
package conversation
