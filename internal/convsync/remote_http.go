package convsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/conversation-sync/internal/model"
	"github.com/go-resty/resty/v2"
)

type listResponse struct {
	Conversations []model.Conversation `json:"conversations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HTTPRemote talks to the conversation endpoints of a running server.
type HTTPRemote struct {
	client *resty.Client
	prefix string
}

// NewHTTPRemote returns a Remote for the server at baseURL, with routes under
// prefix (usually "/api"). timeout bounds every request.
func NewHTTPRemote(baseURL, prefix string, timeout time.Duration) *HTTPRemote {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPRemote{client: client, prefix: "/" + strings.Trim(prefix, "/")}
}

func (r *HTTPRemote) Upsert(ctx context.Context, conv model.Conversation) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(conv).
		SetError(&errorResponse{}).
		Post(r.prefix + "/conversations")
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ThreadID, err)
	}
	if !resp.IsSuccess() {
		return remoteError("save conversation", resp)
	}
	return nil
}

func (r *HTTPRemote) List(ctx context.Context) ([]model.Conversation, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&listResponse{}).
		SetError(&errorResponse{}).
		Get(r.prefix + "/conversations")
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, remoteError("load conversations", resp)
	}
	out, _ := resp.Result().(*listResponse)
	if out == nil || out.Conversations == nil {
		return []model.Conversation{}, nil
	}
	return out.Conversations, nil
}

func (r *HTTPRemote) Delete(ctx context.Context, threadID string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("id", threadID).
		SetError(&errorResponse{}).
		Delete(r.prefix + "/conversations/{id}")
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", threadID, err)
	}
	if !resp.IsSuccess() {
		return remoteError("delete conversation", resp)
	}
	return nil
}

func remoteError(op string, resp *resty.Response) error {
	e := &RemoteError{Op: op, Status: resp.StatusCode()}
	if body, ok := resp.Error().(*errorResponse); ok && body != nil {
		e.Message = body.Error
	}
	return e
}

var _ Remote = (*HTTPRemote)(nil)
