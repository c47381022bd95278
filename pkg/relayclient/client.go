// Package relayclient 提供了调用中转端点与后端触发接口的客户端。
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"factcheck-relay/internal/model"
)

// ErrTriggerFailed 表示后端没有接受本次问题。
var ErrTriggerFailed = errors.New("trigger request failed")

// PollResult 对应出队端点的响应体。
type PollResult struct {
	Success    bool                  `json:"success"`
	HasMessage bool                  `json:"hasMessage"`
	Message    *model.MessagePayload `json:"message,omitempty"`
	IsComplete *bool                 `json:"isComplete,omitempty"`
}

type triggerRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type pushRequest struct {
	SessionID string `json:"sessionId"`
	model.MessagePayload
}

// Client 负责与中转服务和事实核查后端通信。
type Client struct {
	relayURL   string
	backendURL string
	client     *http.Client
}

// New 创建客户端。Poll 与 Push 请求超时时间为 pollTimeout，触发请求只受调用方 ctx 控制。
func New(relayURL, backendURL string, pollTimeout time.Duration) *Client {
	return &Client{
		relayURL:   strings.TrimRight(relayURL, "/"),
		backendURL: backendURL,
		client:     &http.Client{Timeout: pollTimeout},
	}
}

// Poll 调用一次出队端点。
func (c *Client) Poll(ctx context.Context, sessionID string) (*PollResult, error) {
	endpoint := c.relayURL + "/api/get-message?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call get-message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get-message returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var result PollResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode get-message response: %w", err)
	}
	return &result, nil
}

// Trigger 请求后端开始处理问题，结果由后端通过入队端点异步写回。
func (c *Client) Trigger(ctx context.Context, query, sessionID string) error {
	reqBytes, err := json.Marshal(triggerRequest{Query: query, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 触发请求不设置额外超时
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: backend returned %s", ErrTriggerFailed, resp.Status)
	}

	var result triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrTriggerFailed, err)
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "unknown error"
		}
		return fmt.Errorf("%w: %s", ErrTriggerFailed, reason)
	}
	return nil
}

// Push 像后端一样向入队端点发送一条消息。
func (c *Client) Push(ctx context.Context, sessionID string, payload model.MessagePayload) error {
	reqBytes, err := json.Marshal(pushRequest{SessionID: sessionID, MessagePayload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/api/receive-message", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call receive-message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("receive-message returned non-200 status: %s, body: %s", resp.Status, string(body))
	}
	return nil
}
