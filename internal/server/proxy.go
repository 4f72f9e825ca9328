package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/teleprompt2api/api-proxy/internal/formatter"
	"github.com/teleprompt2api/api-proxy/internal/metrics"
	"github.com/teleprompt2api/api-proxy/internal/models"
	"github.com/teleprompt2api/api-proxy/internal/upstream"
	"go.uber.org/zap"
)

// chatCompletions handles the chat completion request
func (s *Server) chatCompletions(c *gin.Context) {
	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusInternalServerError, "Invalid request body: "+err.Error(), models.CodeGenerationFailed)
		return
	}

	msg, ok := req.LastUserMessage()
	if !ok {
		abortWithError(c, http.StatusBadRequest, "No user message found (role: user)", models.CodeInvalidRequest)
		return
	}

	prompt := msg.Content.String()
	model := s.models.Name(req.Model)
	endpoint := s.models.Resolve(req.Model)
	id := s.newChatID()

	s.logger.Debug("Forwarding prompt",
		zap.String("model", model),
		zap.String("endpoint", endpoint),
		zap.Int("prompt_length", len(prompt)),
		zap.Bool("stream", req.Stream))

	start := time.Now()
	text, err := s.upstream.Optimize(c.Request.Context(), prompt, endpoint)
	s.metrics.RecordUpstream(s.models.Canonical(req.Model), upstreamOutcome(err), time.Since(start))
	if err != nil {
		s.logger.Error("Upstream call failed",
			zap.String("model", model),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, err.Error(), models.CodeGenerationFailed)
		return
	}

	if req.Stream {
		s.handleStreamResponse(c, text, model, id)
		return
	}

	c.JSON(http.StatusOK, formatter.Completion(text, model, id, s.now()))
}

// handleStreamResponse replays text as an SSE stream. Headers are committed
// before the first frame, so later failures can only end the stream early.
func (s *Server) handleStreamResponse(c *gin.Context, text, model, id string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	stream := formatter.NewStream(text, model, id,
		formatter.WithChunkSize(s.cfg.Stream.ChunkSize),
		formatter.WithClock(s.now))

	frames, err := formatter.Drain(c.Request.Context(), c.Writer, c.Writer.Flush, stream, s.cfg.Stream.Delay)
	s.metrics.RecordStream(frames, err != nil)
	if err != nil {
		s.logger.Info("Stream ended early",
			zap.String("id", id),
			zap.Int("frames_written", frames),
			zap.Error(err))
	}
}

func upstreamOutcome(err error) string {
	var httpErr *upstream.HTTPError
	var protoErr *upstream.ProtocolError

	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &httpErr):
		return metrics.OutcomeHTTPError
	case errors.As(err, &protoErr):
		return metrics.OutcomeProtocolError
	default:
		return metrics.OutcomeTransport
	}
}
