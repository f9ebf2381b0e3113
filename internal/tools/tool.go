// Package tools 定义模型可调用的工具集合。工具集合在启动时构建一次，之后只读。
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sentinel-chat-go/pkg/llm"
	"sort"
	"time"
)

// 固定的工具标签，与模型看到的函数名一致。
const (
	Calculator    = "calculator"
	GenerateImage = "generate_image"
	SearchWeb     = "search_web"
	ReadWebPage   = "read_web_page"
)

// Tool 是一个可被模型调用的工具。
type Tool interface {
	Name() string
	Definition() llm.ToolDefinition
	// Execute 接收模型给出的原始 JSON 参数，返回作为 tool 消息回填的文本。
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry 按名称索引工具。
type Registry struct {
	tools map[string]Tool
}

// NewRegistry 用给定工具构建注册表，名称重复时后者覆盖前者。
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

// Get 按名称查找工具。
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions 返回按名称排序的工具声明，保证每次请求体稳定。
func (r *Registry) Definitions() []llm.ToolDefinition {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Len 返回工具数量。
func (r *Registry) Len() int { return len(r.tools) }

// Options 是构建内置工具所需的依赖。
type Options struct {
	Images    ImageGenerator
	SearchURL string
	Timeout   time.Duration
}

// Build 根据启用的标签构建注册表，未知标签返回错误。
func Build(enabled []string, opts Options) (*Registry, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	var ts []Tool
	for _, tag := range enabled {
		switch tag {
		case Calculator:
			ts = append(ts, NewCalculator())
		case GenerateImage:
			if opts.Images == nil {
				return nil, fmt.Errorf("tool %s requires an image generator", tag)
			}
			ts = append(ts, NewImageTool(opts.Images))
		case SearchWeb:
			ts = append(ts, NewSearchTool(httpClient, opts.SearchURL))
		case ReadWebPage:
			ts = append(ts, NewReadPageTool(NewPublicHTTPClient(opts.Timeout)))
		default:
			return nil, fmt.Errorf("unknown tool %q", tag)
		}
	}
	return NewRegistry(ts...), nil
}

func definition(name, description, schema string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
	}
}

func decodeArgs(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
