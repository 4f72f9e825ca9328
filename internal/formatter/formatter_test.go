package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teleprompt2api/api-proxy/internal/models"
)

var fixedNow = time.Unix(1_732_600_000, 0)

func fixedClock() time.Time { return fixedNow }

// collect drains s without delays and decodes every chunk frame.
func collect(t *testing.T, s *Stream) ([]models.ChatCompletionChunk, [][]byte) {
	t.Helper()
	var (
		chunks []models.ChatCompletionChunk
		raw    [][]byte
	)
	for {
		frame, ok := s.Next()
		if !ok {
			break
		}
		raw = append(raw, frame.Data)
		if frame.Kind == FrameDone {
			continue
		}
		require.True(t, bytes.HasPrefix(frame.Data, []byte("data: ")))
		require.True(t, bytes.HasSuffix(frame.Data, []byte("\n\n")))

		var chunk models.ChatCompletionChunk
		payload := bytes.TrimSuffix(bytes.TrimPrefix(frame.Data, []byte("data: ")), []byte("\n\n"))
		require.NoError(t, json.Unmarshal(payload, &chunk))
		chunks = append(chunks, chunk)
	}
	return chunks, raw
}

func TestCompletion(t *testing.T) {
	resp := Completion("optimized", "teleprompt-reason", "chatcmpl-1", fixedNow)

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, fixedNow.Unix(), resp.Created)
	assert.Equal(t, "teleprompt-reason", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, 0, resp.Choices[0].Index)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "optimized", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)

	data, err := json.Marshal(resp.Usage)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}`, string(data))
}

func TestStream_ChunkCountAndReconstruction(t *testing.T) {
	texts := []string{"a", "ab", "abc", "hello world", "你好世界!", "emoji 👍🏽 ok", strings.Repeat("xyz", 41)}

	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			chunks, raw := collect(t, NewStream(text, "m", "chatcmpl-x", WithClock(fixedClock)))

			n := utf8.RuneCountInString(text)
			contentChunks := (n + 1) / 2
			require.Len(t, chunks, contentChunks+1)
			require.Len(t, raw, contentChunks+2)
			assert.Equal(t, DoneFrame, raw[len(raw)-1])

			var rebuilt strings.Builder
			for i, chunk := range chunks[:contentChunks] {
				require.Len(t, chunk.Choices, 1)
				assert.Nil(t, chunk.Choices[0].FinishReason)
				assert.NotEmpty(t, chunk.Choices[0].Delta.Content, "chunk %d", i)
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Choices[0].Delta.Content), 2)
				rebuilt.WriteString(chunk.Choices[0].Delta.Content)
			}
			assert.Equal(t, text, rebuilt.String())

			stop := chunks[len(chunks)-1]
			require.NotNil(t, stop.Choices[0].FinishReason)
			assert.Equal(t, "stop", *stop.Choices[0].FinishReason)
			assert.Empty(t, stop.Choices[0].Delta.Content)
		})
	}
}

func TestStream_MultiByteNeverSplit(t *testing.T) {
	chunks, _ := collect(t, NewStream("你好世界!", "m", "id"))

	require.Len(t, chunks, 4)
	assert.Equal(t, "你好", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "世界", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "!", chunks[2].Choices[0].Delta.Content)
}

func TestStream_EmptyText(t *testing.T) {
	_, raw := collect(t, NewStream("", "m", "chatcmpl-empty", WithClock(fixedClock)))

	require.Len(t, raw, 2)
	assert.Equal(t,
		`data: {"id":"chatcmpl-empty","object":"chat.completion.chunk","created":1732600000,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n",
		string(raw[0]))
	assert.Equal(t, "data: [DONE]\n\n", string(raw[1]))
}

func TestStream_ExactFrameEncoding(t *testing.T) {
	_, raw := collect(t, NewStream("a<b", "teleprompt-apps", "chatcmpl-7", WithClock(fixedClock)))

	require.Len(t, raw, 4)
	assert.Equal(t,
		`data: {"id":"chatcmpl-7","object":"chat.completion.chunk","created":1732600000,"model":"teleprompt-apps","choices":[{"index":0,"delta":{"content":"a<"},"finish_reason":null}]}`+"\n\n",
		string(raw[0]))
	assert.Equal(t,
		`data: {"id":"chatcmpl-7","object":"chat.completion.chunk","created":1732600000,"model":"teleprompt-apps","choices":[{"index":0,"delta":{"content":"b"},"finish_reason":null}]}`+"\n\n",
		string(raw[1]))
}

func TestStream_IDStableAcrossChunks(t *testing.T) {
	chunks, _ := collect(t, NewStream("stable id check", "m", "chatcmpl-same"))

	for _, chunk := range chunks {
		assert.Equal(t, "chatcmpl-same", chunk.ID)
		assert.Equal(t, "chat.completion.chunk", chunk.Object)
		assert.Equal(t, "m", chunk.Model)
	}
}

func TestStream_NotRestartable(t *testing.T) {
	s := NewStream("ab", "m", "id")
	_, _ = collect(t, s)

	_, ok := s.Next()
	assert.False(t, ok)
}

func TestStream_CustomChunkSize(t *testing.T) {
	chunks, _ := collect(t, NewStream("abcdefg", "m", "id", WithChunkSize(3)))

	require.Len(t, chunks, 4)
	assert.Equal(t, "abc", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "def", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "g", chunks[2].Choices[0].Delta.Content)
}

func TestDrain_WritesAllFramesAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	flushes := 0

	n, err := Drain(context.Background(), &buf, func() { flushes++ }, NewStream("abcde", "m", "id"), 0)
	require.NoError(t, err)

	assert.Equal(t, 5, n) // 3 content + stop + done
	assert.Equal(t, 5, flushes)
	assert.Equal(t, 5, strings.Count(buf.String(), "data: "))
	assert.True(t, strings.HasSuffix(buf.String(), "data: [DONE]\n\n"))
}

func TestDrain_PacesContentFrames(t *testing.T) {
	var buf bytes.Buffer
	delay := 5 * time.Millisecond

	start := time.Now()
	_, err := Drain(context.Background(), &buf, nil, NewStream("abcdef", "m", "id"), delay)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 3*delay)
}

func TestDrain_StopsWhenCancelledBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := Drain(ctx, &buf, nil, NewStream("abcdef", "m", "id"), time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Zero(t, buf.Len())
}

// cancelAfter cancels its context once it has seen limit writes.
type cancelAfter struct {
	bytes.Buffer
	writes int
	limit  int
	cancel context.CancelFunc
}

func (w *cancelAfter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes == w.limit {
		w.cancel()
	}
	return w.Buffer.Write(p)
}

func TestDrain_StopsMidStreamOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelAfter{limit: 1, cancel: cancel}

	// the hour-long delay must be cut short by the cancellation
	n, err := Drain(ctx, w, nil, NewStream(strings.Repeat("a", 100), "m", "id"), time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, w.writes)
	assert.NotContains(t, w.String(), "[DONE]")
}

type failingWriter struct{ after int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after == 0 {
		return 0, errors.New("broken pipe")
	}
	w.after--
	return len(p), nil
}

func TestDrain_StopsOnWriteError(t *testing.T) {
	n, err := Drain(context.Background(), &failingWriter{after: 1}, nil, NewStream("abcdef", "m", "id"), 0)
	assert.EqualError(t, err, "broken pipe")
	assert.Equal(t, 1, n)
}
