package assistant

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"persona-chat/internal/provider"
)

// frame is the interpretation of one stream payload
type frame struct {
	// token is incremental text for the token callback
	token string
	// final replaces the stream result when hasFinal is set
	final    string
	hasFinal bool
	// sessionID must be persisted before the next frame is handled
	sessionID string
}

// frameDecoder interprets the JSON payload of one data line
type frameDecoder interface {
	decodeFrame(payload []byte) (frame, error)
}

// frameDecoders is keyed by wire format; a new provider format adds one entry here
var frameDecoders = map[provider.WireFormat]func() frameDecoder{
	provider.Custom:  func() frameDecoder { return cozeDecoder{} },
	provider.Generic: func() frameDecoder { return &chatStreamDecoder{} },
}

func newFrameDecoder(format provider.WireFormat) (frameDecoder, bool) {
	factory, ok := frameDecoders[format]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Coze frame types
const (
	cozeTypeAnswer   = "answer"
	cozeTypeVerbose  = "verbose"
	cozeTypeFollowUp = "follow_up"
)

// cozeFrame covers both chat lifecycle events and message events
type cozeFrame struct {
	Status         json.RawMessage `json:"status"`
	ConversationID string          `json:"conversation_id"`
	Type           string          `json:"type"`
	Content        string          `json:"content"`
	TimeCost       json.RawMessage `json:"time_cost"`
	CreatedAt      json.RawMessage `json:"created_at"`
}

type cozeDecoder struct{}

func (cozeDecoder) decodeFrame(payload []byte) (frame, error) {
	var f cozeFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return frame{}, err
	}

	// lifecycle event: created / in_progress / completed
	if present(f.Status) {
		return frame{sessionID: f.ConversationID}, nil
	}

	switch f.Type {
	case cozeTypeAnswer:
		if f.Content == "" {
			return frame{}, nil
		}
		// the completed message repeats the whole answer with timing metadata
		if present(f.TimeCost) && present(f.CreatedAt) {
			return frame{final: f.Content, hasFinal: true}, nil
		}
		return frame{token: f.Content}, nil
	case cozeTypeVerbose, cozeTypeFollowUp:
		return frame{}, nil
	default:
		return frame{}, nil
	}
}

// present reports whether a JSON field was sent with a non-null value
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// chatStreamDecoder handles chat-completion delta streams. Each token carries the text
// so far, and the result is the concatenation of every delta.
type chatStreamDecoder struct {
	text strings.Builder
}

func (d *chatStreamDecoder) decodeFrame(payload []byte) (frame, error) {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return frame{}, err
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return frame{}, nil
	}

	d.text.WriteString(chunk.Choices[0].Delta.Content)
	text := d.text.String()
	return frame{token: text, final: text, hasFinal: true}, nil
}

// decodeCompletion reads a single-shot chat-completion body
func decodeCompletion(body []byte) (string, error) {
	var resp openai.ChatCompletionResponse
	err := json.Unmarshal(body, &resp)
	if err == nil && len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}

	var errResp openai.ErrorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return "", &APIError{Message: errResp.Error.Message}
	}

	if err == nil {
		err = errors.New("response contains no choices")
	}
	return "", &MalformedResponseError{Err: err}
}
