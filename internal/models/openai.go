package models

import (
	"encoding/json"
	"strings"
)

// OpenAI Chat Completion Request
type ChatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []ChatCompletionMessage `json:"messages"`
	Stream      bool                    `json:"stream,omitempty"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature,omitempty"`
	TopP        float64                 `json:"top_p,omitempty"`
}

type ChatCompletionMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// MessageContent is either a plain string or an array of content parts.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// UnmarshalJSON accepts string, array-of-parts and null content.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*mc = MessageContent{}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*mc = MessageContent{Text: str}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*mc = MessageContent{Parts: parts}
	return nil
}

// MarshalJSON writes the same shape that was read.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.Parts != nil {
		return json.Marshal(mc.Parts)
	}
	return json.Marshal(mc.Text)
}

// String returns the prompt text; text parts are joined with newlines.
func (mc MessageContent) String() string {
	if mc.Parts == nil {
		return mc.Text
	}
	texts := make([]string, 0, len(mc.Parts))
	for _, part := range mc.Parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// LastUserMessage scans in input order and returns the last user message.
func (r *ChatCompletionRequest) LastUserMessage() (ChatCompletionMessage, bool) {
	var (
		last  ChatCompletionMessage
		found bool
	)
	for _, msg := range r.Messages {
		if msg.Role == "user" {
			last = msg
			found = true
		}
	}
	return last, found
}

// OpenAI Chat Completion Response
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

type ChatCompletionChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAI Stream Response
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

type ChatCompletionChunkChoice struct {
	Index        int                 `json:"index"`
	Delta        ChatCompletionDelta `json:"delta"`
	FinishReason *string             `json:"finish_reason"` // Nullable
}

type ChatCompletionDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	FinishReasonStop          = "stop"
	RoleAssistant             = "assistant"
)
