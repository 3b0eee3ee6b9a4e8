package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"labsight-go/internal/model"
	"labsight-go/internal/pipeline"
	"labsight-go/internal/repository"
	"labsight-go/pkg/llm"
	"labsight-go/pkg/log"
	"labsight-go/pkg/metrics"

	"github.com/gorilla/websocket"
)

// FallbackResponse 是模型调用失败时返回给用户的固定回复。
const FallbackResponse = "I'm sorry, I'm having trouble connecting right now. Please try again in a moment, or consult with a healthcare professional for medical advice."

// ChatRequest 是一次追问。AnalysisResults 为空时不附带报告上下文。
// AnalysisResults 保留原始 JSON，由 pipeline.DecodeCombined 宽松解析，
// 形状不符不会让请求失败。
type ChatRequest struct {
	Message         string          `json:"message"`
	AnalysisResults json.RawMessage `json:"analysisResults,omitempty"`
	TestType        string          `json:"testType"`
	SessionID       string          `json:"sessionId,omitempty"`
}

// ChatReply 是模型的原始回复文本和生成时间。
type ChatReply struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Reply 返回完整回复。失败时返回带 FallbackResponse 的 reply 和原始错误。
	Reply(ctx context.Context, req ChatRequest) (*ChatReply, error)
	// StreamReply 通过 writer 以 {"chunk":...} 分块推送回复，结束时发送 completion 通知。
	StreamReply(ctx context.Context, req ChatRequest, writer llm.MessageWriter, shouldStop func() bool) error
	History(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
}

type chatService struct {
	llmClient   llm.Client
	sessionRepo repository.ChatSessionRepository
	now         func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。sessionRepo 可以为 nil。
func NewChatService(llmClient llm.Client, sessionRepo repository.ChatSessionRepository) ChatService {
	return &chatService{
		llmClient:   llmClient,
		sessionRepo: sessionRepo,
		now:         time.Now,
	}
}

func (s *chatService) buildPrompt(req ChatRequest) string {
	var contextText string
	if results := decodeResults(req.AnalysisResults); results != nil && len(results.Reports) > 0 {
		testType := req.TestType
		if testType == "" {
			testType = results.TestType
		}
		contextText = pipeline.ComposeChatContext(results.Reports, testType, s.now())
	}
	return pipeline.BuildChatPrompt(contextText, req.Message)
}

// decodeResults 解析失败时返回 nil，聊天在没有报告上下文的情况下继续。
func decodeResults(raw json.RawMessage) *model.CombinedAnalysis {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	results, warnings, err := pipeline.DecodeCombined(trimmed)
	if err != nil {
		log.Warnf("Ignoring unreadable analysis results in chat request: %v", err)
		return nil
	}
	for _, w := range warnings {
		log.Warnf("Chat analysis results: %s", w)
	}
	return results
}

func (s *chatService) Reply(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	text, err := s.llmClient.GenerateContent(ctx, s.buildPrompt(req))
	if err != nil {
		metrics.ChatRepliesTotal.WithLabelValues("fallback").Inc()
		return &ChatReply{Response: FallbackResponse, Timestamp: s.now().UTC()}, err
	}
	metrics.ChatRepliesTotal.WithLabelValues("success").Inc()

	reply := &ChatReply{Response: text, Timestamp: s.now().UTC()}
	s.saveTurn(ctx, req, reply.Response, reply.Timestamp)
	return reply, nil
}

func (s *chatService) StreamReply(ctx context.Context, req ChatRequest, writer llm.MessageWriter, shouldStop func() bool) error {
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	// 拦截 writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: writer, writer: answerBuilder, shouldStop: shouldStop}

	err := s.llmClient.StreamContent(ctx, s.buildPrompt(req), interceptor)
	if err != nil {
		metrics.ChatRepliesTotal.WithLabelValues("fallback").Inc()
		if answerBuilder.Len() == 0 {
			_ = interceptor.WriteMessage(websocket.TextMessage, []byte(FallbackResponse))
		}
		sendCompletion(writer)
		return err
	}
	metrics.ChatRepliesTotal.WithLabelValues("success").Inc()

	sendCompletion(writer)
	if answerBuilder.Len() > 0 {
		// 使用后台上下文，即使连接已断开也保存已生成的答案
		s.saveTurn(context.Background(), req, answerBuilder.String(), s.now().UTC())
	}
	return nil
}

func (s *chatService) History(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	if s.sessionRepo == nil {
		return []model.ChatMessage{}, nil
	}
	return s.sessionRepo.GetHistory(ctx, sessionID)
}

// saveTurn 把一问一答写入会话记录。失败只记日志，不影响已返回的回复。
func (s *chatService) saveTurn(ctx context.Context, req ChatRequest, answer string, at time.Time) {
	if req.SessionID == "" || s.sessionRepo == nil {
		return
	}
	err := s.sessionRepo.Append(ctx, req.SessionID,
		model.ChatMessage{Role: model.RoleUser, Content: req.Message, Timestamp: at},
		model.ChatMessage{Role: model.RoleExpert, Content: answer, Timestamp: at},
	)
	if err != nil {
		log.Errorf("Failed to save chat session %s: %v", req.SessionID, err)
	}
}

// wsWriterInterceptor 包装 websocket 连接，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws llm.MessageWriter) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
