// Package llm provides a client for the Gemini generative model API.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"labsight-go/internal/config"
	"labsight-go/pkg/metrics"

	"github.com/gorilla/websocket"
)

// MessageWriter defines an interface for writing WebSocket messages.
// This allows both a standard websocket.Conn and an interceptor to be used.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// Client defines the interface for a generative model client.
type Client interface {
	// GenerateContent sends a prompt plus optional inline images and returns the model's text.
	GenerateContent(ctx context.Context, prompt string, images ...InlineImage) (string, error)
	// StreamContent sends a text prompt and writes streamed text chunks to writer.
	StreamContent(ctx context.Context, prompt string, writer MessageWriter) error
}

// InlineImage is a base64 encoded image part.
type InlineImage struct {
	MimeType string
	Data     string
}

// APIError is a non-2xx response from the model API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gemini api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gemini api error (status %d)", e.StatusCode)
}

// IsOverloaded reports whether err is the provider's transient "service unavailable".
func IsOverloaded(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

type geminiClient struct {
	cfg    config.GeminiConfig
	client *http.Client
}

// NewClient creates a new Gemini client from config.
func NewClient(cfg config.GeminiConfig) Client {
	httpClient := &http.Client{}
	if cfg.TimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &geminiClient{cfg: cfg, client: httpClient}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func buildRequest(prompt string, images []InlineImage) generateRequest {
	parts := []part{{Text: prompt}}
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{MimeType: img.MimeType, Data: img.Data}})
	}
	return generateRequest{Contents: []content{{Role: "user", Parts: parts}}}
}

func (c *geminiClient) endpoint(method string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	model := strings.TrimPrefix(strings.TrimSpace(c.cfg.Model), "models/")
	url := fmt.Sprintf("%s/models/%s:%s", base, model, method)
	if method == "streamGenerateContent" {
		return url + "?alt=sse&key=" + c.cfg.APIKey
	}
	return url + "?key=" + c.cfg.APIKey
}

func (c *geminiClient) post(ctx context.Context, url string, body generateRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gemini api: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}
	var er errorResponse
	if err := json.Unmarshal(bodyBytes, &er); err == nil && er.Error.Message != "" {
		apiErr.Message = er.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(bodyBytes))
	}
	return apiErr
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsOverloaded(err):
		return "overloaded"
	default:
		return "error"
	}
}

// GenerateContent calls models/{model}:generateContent and returns the concatenated text parts.
func (c *geminiClient) GenerateContent(ctx context.Context, prompt string, images ...InlineImage) (text string, err error) {
	defer func() {
		metrics.ModelRequestsTotal.WithLabelValues("generate", outcome(err)).Inc()
	}()

	resp, err := c.post(ctx, c.endpoint("generateContent"), buildRequest(prompt, images))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	text = candidateText(gr)
	if text == "" {
		return "", errors.New("empty response from gemini")
	}
	return text, nil
}

func candidateText(gr generateResponse) string {
	if len(gr.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// StreamContent calls models/{model}:streamGenerateContent with SSE and forwards each text chunk.
func (c *geminiClient) StreamContent(ctx context.Context, prompt string, writer MessageWriter) (err error) {
	defer func() {
		metrics.ModelRequestsTotal.WithLabelValues("stream", outcome(err)).Inc()
	}()

	resp, err := c.post(ctx, c.endpoint("streamGenerateContent"), buildRequest(prompt, nil))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			var chunk generateResponse
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr == nil {
				if text := candidateText(chunk); text != "" {
					if werr := writer.WriteMessage(websocket.TextMessage, []byte(text)); werr != nil {
						return fmt.Errorf("failed to write message to websocket: %w", werr)
					}
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}
