package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"labsight-go/internal/service"
	"labsight-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源，跨域由 CORS 中间件控制
		},
	}
)

// ChatHandler 负责处理聊天请求（HTTP 和 WebSocket）。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 返回一次完整回复。模型调用失败时返回 500 和固定的兜底回复，不暴露原始错误。
func (h *ChatHandler) Chat(c *gin.Context) {
	// analysisResults 按原始 JSON 接收，只有缺少 message 才是客户端错误
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: invalid request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message is required"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message is required"})
		return
	}

	reply, err := h.chatService.Reply(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Message is required"})
			return
		}
		log.Errorf("Chat API error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"message":  "Failed to get expert response",
			"response": service.FallbackResponse,
		})
		return
	}
	c.JSON(http.StatusOK, reply)
}

// History 返回会话的聊天记录。
func (h *ChatHandler) History(c *gin.Context) {
	messages, err := h.chatService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error("History: failed to load chat session", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to load chat session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": c.Param("id"), "messages": messages})
}

// Stream 处理一个 WebSocket 连接。每条文本消息是一个 ChatRequest，
// {"type":"stop"} 中断当前正在推送的回复。
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	var (
		wg        sync.WaitGroup
		streaming atomic.Bool
		stopped   atomic.Bool
	)
	defer wg.Wait()
	// 劫持后的连接不会取消请求上下文，读循环退出时由 cancel 中止模型调用
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			stopped.Store(true)
			cancel()
			break
		}

		var ctrl struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
			log.Info("收到停止指令，正在中断流式响应...")
			stopped.Store(true)
			continue
		}

		var req service.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil || strings.TrimSpace(req.Message) == "" {
			log.Warnf("忽略无效的 WebSocket 消息: %s", string(message))
			continue
		}
		if !streaming.CompareAndSwap(false, true) {
			log.Warnf("上一条回复尚未结束，忽略新消息")
			continue
		}

		// 清除旧标志
		stopped.Store(false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer streaming.Store(false)
			err := h.chatService.StreamReply(ctx, req, conn, stopped.Load)
			if err != nil {
				log.Errorf("处理流式响应失败: %v", err)
			}
		}()
	}
}
