package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/pkg/encryption"
	"sentinel-chat-go/pkg/llm"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *encryption.Cipher {
	t.Helper()
	c, err := encryption.NewCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return c
}

type fakeMessages struct {
	mu        sync.Mutex
	rows      []model.Message
	appendErr error
	recentErr error
}

func (f *fakeMessages) Append(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	msg.ID = uint(len(f.rows) + 1)
	msg.CreatedAt = time.Now()
	f.rows = append(f.rows, *msg)
	return nil
}

func (f *fakeMessages) Recent(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	var out []model.Message
	for _, m := range f.rows {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) byRole(role string) []model.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.rows {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeMemories struct {
	facts    []string
	appended []string
	err      error
}

func (f *fakeMemories) GetRecent(ctx context.Context, userID string, n int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.facts) > n {
		return f.facts[:n], nil
	}
	return f.facts, nil
}

func (f *fakeMemories) Append(ctx context.Context, userID string, memType model.MemoryType, content, source string) error {
	f.appended = append(f.appended, string(memType)+":"+content)
	return nil
}

type fakeFiles struct {
	files map[string]*model.File
}

func (f *fakeFiles) FindForUser(ctx context.Context, fileID, userID string) (*model.File, error) {
	if file, ok := f.files[fileID]; ok && file.UserID == userID {
		return file, nil
	}
	return nil, repository.ErrNotFound
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Create(ctx context.Context, userID, action string) error {
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeAudit) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeVectors struct {
	mu        sync.Mutex
	results   []model.RAGDocument
	fileDocs  []model.RAGDocument
	searchErr error
	added     []string
	deleted   []string
	events    []string
}

func (f *fakeVectors) AddDocument(ctx context.Context, text string, metadata map[string]string, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, text)
	f.events = append(f.events, "add")
	return nil
}

func (f *fakeVectors) SearchSimilar(ctx context.Context, query, namespace string, k int) ([]model.RAGDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "search")
	return f.results, f.searchErr
}

func (f *fakeVectors) SearchFile(ctx context.Context, query, namespace, fileID string, k int) ([]model.RAGDocument, error) {
	return f.fileDocs, nil
}

func (f *fakeVectors) DeleteFile(ctx context.Context, namespace, fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) ReadAll(ctx context.Context, key string) ([]byte, error) {
	if d, ok := f.data[key]; ok {
		return d, nil
	}
	return nil, errors.New("no such object")
}

type fakeMeter struct {
	tokens []int
	err    error
}

func (f *fakeMeter) Record(ctx context.Context, userID string, tokens int) error {
	f.tokens = append(f.tokens, tokens)
	return f.err
}

// scriptedLLM 依次返回预设的结果，并记录每次调用的请求。
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []*llm.Completion
	err      error
	calls    int
	requests [][]llm.Message
	toolDefs [][]llm.ToolDefinition
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition) (*llm.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, append([]llm.Message(nil), messages...))
	s.toolDefs = append(s.toolDefs, defs)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &llm.Completion{Content: "ok"}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not supported")
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

// funcTool 是测试用的工具实现。
type funcTool struct {
	name string
	fn   func(args json.RawMessage) (string, error)
}

func (f *funcTool) Name() string { return f.name }
func (f *funcTool) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.FunctionDefinition{Name: f.name, Parameters: json.RawMessage(`{"type":"object"}`)}}
}
func (f *funcTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(args)
}
