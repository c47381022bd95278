// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"

	"factcheck-relay/internal/model"
	"factcheck-relay/internal/service"
	"factcheck-relay/pkg/log"

	"github.com/gin-gonic/gin"
)

// RelayHandler 负责入队与出队两个中转端点。
type RelayHandler struct {
	relayService service.RelayService
}

// NewRelayHandler 创建一个新的 RelayHandler。
func NewRelayHandler(relayService service.RelayService) *RelayHandler {
	return &RelayHandler{relayService: relayService}
}

type receiveMessageRequest struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Header    string `json:"header"`
	Content   string `json:"content"`
}

// ReceiveMessage 处理后端推送的消息（入队端点）。
func (h *RelayHandler) ReceiveMessage(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	var req receiveMessageRequest
	// 空请求体按空对象处理，由后续校验报告缺少 sessionId
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Warnf("[RelayHandler] 请求体解析失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.relayService.Enqueue(c.Request.Context(), req.SessionID, model.MessagePayload{
		Type:    req.Type,
		Header:  req.Header,
		Content: req.Content,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Message received"})
}

type messageResponse struct {
	Success    bool                  `json:"success"`
	HasMessage bool                  `json:"hasMessage"`
	Message    *model.MessagePayload `json:"message,omitempty"`
	IsComplete *bool                 `json:"isComplete,omitempty"`
}

// GetMessage 处理前端轮询（出队端点），每次最多返回一条消息。
func (h *RelayHandler) GetMessage(c *gin.Context) {
	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	result, err := h.relayService.Dequeue(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := messageResponse{Success: true, HasMessage: result.HasMessage, IsComplete: result.IsComplete}
	if result.HasMessage {
		msg := result.Message
		resp.Message = &msg
	}
	c.JSON(http.StatusOK, resp)
}

// writeError 把业务错误映射为状态码；非校验错误直接返回原始错误信息。
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrMissingSessionID), errors.Is(err, service.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Errorf("[RelayHandler] 处理请求失败, path: %s, error: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
