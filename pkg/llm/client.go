// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/pkg/log"
	"time"
)

// 与 OpenAI 兼容接口一致的角色名。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Client 是推理服务的抽象。所有方法都是非流式的，调用方拿到完整结果后再做输出审查。
type Client interface {
	// Complete 发送一轮对话，tools 为空时不开启函数调用。
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error)
	// GenerateImage 根据提示词生成图片并返回其 URL。
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ContentPart 是多模态消息中的一个片段。
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 可以是 http(s) 地址，也可以是 data:image/...;base64, 形式。
type ImageURL struct {
	URL string `json:"url"`
}

// Message 表示一条角色消息。Parts 非空时以多模态数组形式发送 content。
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"-"`
	Parts      []ContentPart `json:"-"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// MarshalJSON 按接口约定输出 content 字段：字符串或片段数组。
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	out := struct {
		alias
		Content interface{} `json:"content"`
	}{alias: alias(m)}
	switch {
	case len(m.Parts) > 0:
		out.Content = m.Parts
	case m.Content == "" && len(m.ToolCalls) > 0:
		out.Content = nil
	default:
		out.Content = m.Content
	}
	return json.Marshal(out)
}

// ToolCall 是模型请求的一次函数调用。
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall 中的 Arguments 是模型给出的原始 JSON 字符串。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition 向模型声明一个可用工具。
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage 记录一次调用的 token 用量。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion 是一次推理的完整结果。
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// APIError 表示推理服务返回了非 200 响应。
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api returned status %d: %s", e.StatusCode, e.Body)
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	TopP        *float64         `json:"top_p,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   *string    `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *openAICompatibleClient) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
		reqBody.ToolChoice = "auto"
	}
	// 从全局配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	var resp chatResponse
	if err := c.post(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm api returned no choices")
	}

	choice := resp.Choices[0].Message
	out := &Completion{ToolCalls: choice.ToolCalls}
	if choice.Content != nil {
		out.Content = *choice.Content
	}
	if resp.Usage != nil {
		out.Usage = *resp.Usage
	}
	log.Debugf("[LLMClient] completion done, model: %s, tool_calls: %d, tokens: %d", c.cfg.Model, len(out.ToolCalls), out.Usage.TotalTokens)
	return out, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (c *openAICompatibleClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	var resp imageResponse
	err := c.post(ctx, "/images/generations", imageRequest{
		Model:  c.cfg.ImageModel,
		Prompt: prompt,
		N:      1,
		Size:   "1024x1024",
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image api returned no image")
	}
	return resp.Data[0].URL, nil
}

func (c *openAICompatibleClient) post(ctx context.Context, path string, body, out interface{}) error {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call llm api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode llm response: %w", err)
	}
	return nil
}
