// Package formatter turns upstream result text into OpenAI-shaped responses.
//
// Non-streaming requests get a single chat.completion object. Streaming
// requests get a Stream: a lazy, finite producer of server-sent-event frames
// that slices the already complete text into fixed-size runs of code points.
// Drain writes those frames, pacing content frames and stopping as soon as
// the consumer goes away.
package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"
	"unicode/utf8"

	"github.com/teleprompt2api/api-proxy/internal/models"
)

// DoneFrame terminates every stream.
var DoneFrame = []byte("data: [DONE]\n\n")

// Completion builds the non-streaming response. Token counts are always zero.
func Completion(text, model, id string, now time.Time) models.ChatCompletionResponse {
	return models.ChatCompletionResponse{
		ID:      id,
		Object:  models.ObjectChatCompletion,
		Created: now.Unix(),
		Model:   model,
		Choices: []models.ChatCompletionChoice{
			{
				Index: 0,
				Message: models.AssistantMessage{
					Role:    models.RoleAssistant,
					Content: text,
				},
				FinishReason: models.FinishReasonStop,
			},
		},
		Usage: models.Usage{},
	}
}

// FrameKind tells content frames apart from the two terminal frames.
type FrameKind int

const (
	FrameContent FrameKind = iota
	FrameStop
	FrameDone
)

// Frame is one pre-encoded SSE event.
type Frame struct {
	Kind FrameKind
	Data []byte
}

type streamState int

const (
	stateContent streamState = iota
	stateStop
	stateDone
	stateFinished
)

// Stream yields the frames of one pseudo-streamed response. It cannot be rewound.
type Stream struct {
	text      string
	model     string
	id        string
	chunkSize int
	now       func() time.Time
	state     streamState
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithChunkSize sets how many code points go into each content frame.
func WithChunkSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock overrides the source of the created timestamp.
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) {
		s.now = now
	}
}

// NewStream prepares the frames for text. Nothing is encoded until Next is called.
func NewStream(text, model, id string, opts ...StreamOption) *Stream {
	s := &Stream{
		text:      text,
		model:     model,
		id:        id,
		chunkSize: 2,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the following frame, or false once [DONE] has been produced.
func (s *Stream) Next() (Frame, bool) {
	switch s.state {
	case stateContent:
		if s.text != "" {
			slice := s.take()
			return Frame{Kind: FrameContent, Data: s.encode(models.ChatCompletionDelta{Content: slice}, nil)}, true
		}
		s.state = stateStop
		fallthrough
	case stateStop:
		s.state = stateDone
		stop := models.FinishReasonStop
		return Frame{Kind: FrameStop, Data: s.encode(models.ChatCompletionDelta{}, &stop)}, true
	case stateDone:
		s.state = stateFinished
		return Frame{Kind: FrameDone, Data: DoneFrame}, true
	default:
		return Frame{}, false
	}
}

// take cuts the next chunkSize code points off the remaining text.
func (s *Stream) take() string {
	end := 0
	for n := 0; n < s.chunkSize && end < len(s.text); n++ {
		_, size := utf8.DecodeRuneInString(s.text[end:])
		end += size
	}
	slice := s.text[:end]
	s.text = s.text[end:]
	return slice
}

func (s *Stream) encode(delta models.ChatCompletionDelta, finishReason *string) []byte {
	chunk := models.ChatCompletionChunk{
		ID:      s.id,
		Object:  models.ObjectChatCompletionChunk,
		Created: s.now().Unix(),
		Model:   s.model,
		Choices: []models.ChatCompletionChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finishReason},
		},
	}

	var buf bytes.Buffer
	buf.WriteString("data: ")
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// the chunk holds only strings and ints, so Encode cannot fail
	_ = enc.Encode(chunk)
	// Encode already wrote one newline
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Drain writes every frame of s to w, calling flush after each one and
// sleeping delay after each content frame. It returns ctx.Err() as soon as
// ctx is done, without writing anything further, and stops on the first
// write error. The result is the number of frames written.
func Drain(ctx context.Context, w io.Writer, flush func(), s *Stream, delay time.Duration) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		frame, ok := s.Next()
		if !ok {
			return written, nil
		}

		if _, err := w.Write(frame.Data); err != nil {
			return written, err
		}
		if flush != nil {
			flush()
		}
		written++

		if frame.Kind != FrameContent || delay <= 0 {
			continue
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		case <-timer.C:
		}
	}
}
