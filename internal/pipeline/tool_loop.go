package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sentinel-chat-go/internal/tools"
	"sentinel-chat-go/pkg/llm"
	"sentinel-chat-go/pkg/log"
)

// ErrInference 包装推理服务的失败，调用方按可重试处理。
var ErrInference = errors.New("inference provider error")

type loopState int

const (
	stateInfer loopState = iota
	stateExecuteTools
	stateDone
)

// maxToolRoundTrips 限制一次任务中工具调用的往返次数。
const maxToolRoundTrips = 1

// LoopResult 是工具循环的最终结果。TotalTokens 为所有推理调用的用量之和。
type LoopResult struct {
	Content     string
	TotalTokens int
	ToolCalls   int
}

// ToolLoop 驱动 INFER -> EXECUTE_TOOLS -> INFER 的有界状态机。
type ToolLoop struct {
	client   llm.Client
	registry *tools.Registry
}

func NewToolLoop(client llm.Client, registry *tools.Registry) *ToolLoop {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &ToolLoop{client: client, registry: registry}
}

// Run 执行循环。第二次推理不再提供工具，若模型仍返回工具调用则忽略，直接采用其文本。
func (l *ToolLoop) Run(ctx context.Context, messages []llm.Message) (*LoopResult, error) {
	msgs := append([]llm.Message(nil), messages...)
	res := &LoopResult{}
	rounds := 0
	var pending []llm.ToolCall

	for state := stateInfer; state != stateDone; {
		switch state {
		case stateInfer:
			var defs []llm.ToolDefinition
			if rounds < maxToolRoundTrips {
				defs = l.registry.Definitions()
			}
			out, err := l.client.Complete(ctx, msgs, defs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInference, err)
			}
			res.TotalTokens += out.Usage.TotalTokens
			res.Content = out.Content

			if len(out.ToolCalls) > 0 && rounds < maxToolRoundTrips {
				msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: out.Content, ToolCalls: out.ToolCalls})
				pending = out.ToolCalls
				state = stateExecuteTools
			} else {
				if len(out.ToolCalls) > 0 {
					log.Warnf("[ToolLoop] ignoring %d tool calls after round trip limit", len(out.ToolCalls))
				}
				state = stateDone
			}

		case stateExecuteTools:
			for _, call := range pending {
				msgs = append(msgs, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: call.ID,
					Content:    l.execute(ctx, call),
				})
			}
			res.ToolCalls += len(pending)
			pending = nil
			rounds++
			state = stateInfer
		}
	}
	return res, nil
}

// execute 运行单个工具。未知工具、参数错误、执行错误和 panic 都转为回填给模型的错误文本。
func (l *ToolLoop) execute(ctx context.Context, call llm.ToolCall) (result string) {
	name := call.Function.Name
	tool, ok := l.registry.Get(name)
	if !ok {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[ToolLoop] tool %s panicked: %v", name, r)
			result = fmt.Sprintf("Error executing tool: %v", r)
		}
	}()

	log.Infof("[ToolLoop] executing tool %s", name)
	out, err := tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
	if err != nil {
		return "Error executing tool: " + err.Error()
	}
	return out
}
