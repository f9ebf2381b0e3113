package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sentinel-chat-go/pkg/llm"
	"strings"
)

// ImageGenerator 由推理客户端实现。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type imageArgs struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
}

type imageTool struct {
	gen ImageGenerator
}

func NewImageTool(gen ImageGenerator) Tool {
	return &imageTool{gen: gen}
}

func (t *imageTool) Name() string { return GenerateImage }

func (t *imageTool) Definition() llm.ToolDefinition {
	return definition(GenerateImage,
		"Generates an image based on a text prompt. Use this when the user asks to 'draw', 'paint', or 'create an image'.",
		`{"type":"object","properties":{"prompt":{"type":"string","description":"A detailed description of the image to generate."},"style":{"type":"string","enum":["vivid","natural"],"description":"The style of the generated image."}},"required":["prompt"]}`)
}

func (t *imageTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args imageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return "", errors.New("prompt is required")
	}
	prompt := args.Prompt
	switch args.Style {
	case "", "vivid":
	case "natural":
		prompt += " (natural, non-hyper-real style)"
	default:
		return "", errors.New("style must be vivid or natural")
	}
	return t.gen.GenerateImage(ctx, prompt)
}
