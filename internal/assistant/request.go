package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"persona-chat/internal/config"
	"persona-chat/internal/logic"
	"persona-chat/internal/models"
	"persona-chat/internal/provider"
)

// cozeContentType is the content type of every Coze additional message
const cozeContentType = "text"

// preparedRequest is a fully built request that can be sent more than once
type preparedRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// newHTTPRequest creates a fresh *http.Request for one attempt
func (r *preparedRequest) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bytes.NewReader(r.body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header = r.header.Clone()
	return req, nil
}

// buildInput is everything a body builder needs
type buildInput struct {
	cfg       config.ProviderConfig
	sessionID string
	wire      []models.WireMessage
}

// bodyBuilder produces the JSON body for one wire format
type bodyBuilder func(in buildInput) any

// bodyBuilders is keyed by wire format; a new provider format adds one entry here
var bodyBuilders = map[provider.WireFormat]bodyBuilder{
	provider.Generic: genericBody,
	provider.Custom:  cozeBody,
}

// genericRequest is the chat-completion request body
type genericRequest struct {
	Model    string               `json:"model"`
	Messages []models.WireMessage `json:"messages"`
}

// cozeMessage is one entry of additional_messages
type cozeMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// cozeRequest is the Coze v3 chat request body
type cozeRequest struct {
	BotID              string        `json:"bot_id"`
	UserID             string        `json:"user_id"`
	Stream             bool          `json:"stream"`
	AutoSaveHistory    bool          `json:"auto_save_history"`
	AdditionalMessages []cozeMessage `json:"additional_messages"`
}

func genericBody(in buildInput) any {
	return genericRequest{
		Model:    in.cfg.Model,
		Messages: in.wire,
	}
}

// cozeBody sends the introduction only on the first turn (no session yet), followed by
// the latest user message. The server keeps the rest of the history.
func cozeBody(in buildInput) any {
	messages := make([]cozeMessage, 0, 2)

	firstTurn := in.sessionID == ""
	if firstTurn && len(in.wire) > 0 {
		messages = append(messages, toCozeMessage(in.wire[0]))
	}

	// index 0 is the introduction; skip it when it was already added above
	if latest := logic.LatestUserMessage(in.wire); latest > 0 || (latest == 0 && !firstTurn) {
		messages = append(messages, toCozeMessage(in.wire[latest]))
	}

	return cozeRequest{
		BotID:              in.cfg.Model,
		UserID:             "user_" + uuid.NewString(),
		Stream:             true,
		AutoSaveHistory:    true,
		AdditionalMessages: messages,
	}
}

func toCozeMessage(m models.WireMessage) cozeMessage {
	return cozeMessage{
		Role:        m.Role,
		Content:     m.Content,
		ContentType: cozeContentType,
	}
}

// buildRequest builds the outbound request for provider p at endpoint
func buildRequest(p provider.Provider, endpoint string, cfg config.ProviderConfig, sessionID string, wire []models.WireMessage) (*preparedRequest, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, endpoint)
	}

	format := p.WireFormat()
	build, ok := bodyBuilders[format]
	if !ok {
		return nil, fmt.Errorf("%w: no body builder for wire format %s", ErrEncoding, format)
	}

	if format == provider.Custom && sessionID != "" {
		q := u.Query()
		q.Set("conversation_id", sessionID)
		u.RawQuery = q.Encode()
	}

	body, err := json.Marshal(build(buildInput{cfg: cfg, sessionID: sessionID, wire: wire}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &preparedRequest{
		method: http.MethodPost,
		url:    u.String(),
		header: header,
		body:   body,
	}, nil
}
