package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"chat-sync/internal/models"
)

// DefaultPageLimit is the message page size requested from the server.
const DefaultPageLimit = 50

// TokenFunc supplies the current bearer credential. Refresh is the transport
// collaborator's concern; the engine just asks for the latest value per call.
type TokenFunc func() string

// SendDirectRequest targets a recipient; ConversationID may be empty on the
// first message, the server creates the conversation.
type SendDirectRequest struct {
	RecipientID    string `json:"recipientId"`
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
	ImgURL         string `json:"imgUrl,omitempty"`
}

// SendGroupRequest targets an existing group conversation.
type SendGroupRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ImgURL         string `json:"imgUrl,omitempty"`
}

// API is the fetch/persistence interface the sync engine consumes. Failures
// are surfaced to the caller untouched; the engine never retries on its own.
type API interface {
	FetchConversations(ctx context.Context) ([]models.Conversation, error)
	FetchMessages(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error)
	SendDirect(ctx context.Context, req SendDirectRequest) (models.Message, error)
	SendGroup(ctx context.Context, req SendGroupRequest) (models.Message, error)
	MarkSeen(ctx context.Context, conversationID string) error
}

// HTTPAPI talks to the chat service REST endpoints with a bearer token.
type HTTPAPI struct {
	baseURL string
	token   TokenFunc
	client  *http.Client
}

// NewHTTPAPI builds an HTTPAPI for baseURL.
func NewHTTPAPI(baseURL string, token TokenFunc) *HTTPAPI {
	return &HTTPAPI{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchConversations loads the full conversation list.
func (a *HTTPAPI) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api.fetchConversations")
	defer span.End()

	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := a.do(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// FetchMessages loads one page of history. A nil returned cursor signals no
// further pages.
func (a *HTTPAPI) FetchMessages(ctx context.Context, conversationID, cursor string, limit int) ([]models.Message, *string, error) {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api.fetchMessages")
	defer span.End()

	if limit <= 0 {
		limit = DefaultPageLimit
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + query.Encode()

	var resp struct {
		Messages []models.Message `json:"messages"`
		Cursor   *string          `json:"cursor"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Messages, resp.Cursor, nil
}

// SendDirect persists a direct message.
func (a *HTTPAPI) SendDirect(ctx context.Context, req SendDirectRequest) (models.Message, error) {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api.sendDirect")
	defer span.End()

	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := a.do(ctx, http.MethodPost, "/messages/direct", req, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Message, nil
}

// SendGroup persists a group message.
func (a *HTTPAPI) SendGroup(ctx context.Context, req SendGroupRequest) (models.Message, error) {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api.sendGroup")
	defer span.End()

	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := a.do(ctx, http.MethodPost, "/messages/group", req, &resp); err != nil {
		return models.Message{}, err
	}
	return resp.Message, nil
}

// MarkSeen reports that the current user has seen up to the latest message.
func (a *HTTPAPI) MarkSeen(ctx context.Context, conversationID string) error {
	ctx, span := otel.Tracer("chat-sync/api").Start(ctx, "api.markSeen")
	defer span.End()

	return a.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/seen", nil, nil)
}

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
