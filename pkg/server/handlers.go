package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harun/mosaic/internal/tracing"
	"github.com/harun/mosaic/pkg/capability"
	"github.com/harun/mosaic/pkg/conversation"
	"github.com/harun/mosaic/pkg/orchestrator"
	"github.com/harun/mosaic/pkg/session"
)

// MessageRequest is the body of POST /api/message.
type MessageRequest struct {
	SessionID *string `json:"session_id"`
	Text      string  `json:"text"`
	RequestID string  `json:"request_id,omitempty"`
}

// TranscribeResponse is the body returned by POST /api/transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// TimelineResponse is the body returned by GET /api/sessions/:id/messages.
type TimelineResponse struct {
	SessionID  string               `json:"session_id"`
	LastIntent session.Intent       `json:"last_intent"`
	Messages   []conversation.Entry `json:"messages"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status, kind := statusFor(err)
	logger := tracing.LoggerFromContext(c.Request.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Kind: kind})
}

func (s *Server) handleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error(), Kind: "input"})
		return
	}

	sessionID := ""
	if req.SessionID != nil {
		sessionID = strings.TrimSpace(*req.SessionID)
	}

	// The turn outlives a disconnecting client; adapter timeouts bound it.
	ctx := tracing.Detach(c.Request.Context())

	res, err := s.turns.HandleMessage(ctx, orchestrator.Request{
		SessionID: sessionID,
		Text:      req.Text,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, conversation.NewReply(res.SessionID, res.Turn))
}

func (s *Server) handleTranscribe(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large", Kind: "input"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "multipart field \"file\" is required", Kind: "input"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "failed to read upload: " + err.Error(), Kind: "input"})
		return
	}
	defer file.Close()

	text, err := s.turns.Transcribe(c.Request.Context(), capability.Audio{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, TranscribeResponse{Text: text})
}

func (s *Server) handleTimeline(c *gin.Context) {
	id := c.Param("id")
	if err := session.ValidateID(id); err != nil {
		s.fail(c, err)
		return
	}

	sess, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, TimelineResponse{
		SessionID:  sess.ID,
		LastIntent: sess.LastIntent,
		Messages:   conversation.Timeline(sess),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.store.Len(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}
