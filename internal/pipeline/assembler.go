package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"sentinel-chat-go/internal/config"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/internal/repository"
	"sentinel-chat-go/pkg/llm"
	"sentinel-chat-go/pkg/log"
	"strings"
)

// DefaultPersona 在未配置人设时使用。
const DefaultPersona = `You are a helpful and knowledgeable AI assistant. Your role is to:
- Always answer questions asked by the user
- Provide accurate, detailed, and helpful responses
- Be conversational and friendly
- Provide explanations and examples when helpful
- Ask clarifying questions if needed for better answers
Format answers in Markdown.`

const memoryHeader = "Known information about the user:"

var memoryTriggers = []string{"remember that", "note that", "from now on"}

// Assembler 为一次推理组装消息列表：系统提示、历史窗口以及可选的文件上下文。
type Assembler struct {
	cfg      config.AssemblerConfig
	memories repository.MemoryRepository
	messages repository.MessageRepository
	files    repository.FileRepository
	vectors  VectorStore
	objects  ObjectReader
	cipher   Cipher
}

// NewAssembler 创建 Assembler。vectors、files、objects 可以为 nil，对应的上下文块将被跳过。
func NewAssembler(
	cfg config.AssemblerConfig,
	memories repository.MemoryRepository,
	messages repository.MessageRepository,
	files repository.FileRepository,
	vectors VectorStore,
	objects ObjectReader,
	cipher Cipher,
) *Assembler {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.RAGLabel == "" {
		cfg.RAGLabel = "RELEVANT CONTEXT:"
	}
	if cfg.DocumentLabel == "" {
		cfg.DocumentLabel = "DOCUMENT CONTEXT:"
	}
	return &Assembler{
		cfg:      cfg,
		memories: memories,
		messages: messages,
		files:    files,
		vectors:  vectors,
		objects:  objects,
		cipher:   cipher,
	}
}

// Assemble 返回发给模型的消息。text 为当前用户消息明文。
// 只有历史记录读取失败会返回错误；检索与文件相关的失败只记录日志。
func (a *Assembler) Assemble(ctx context.Context, job model.ChatJob, text string) ([]llm.Message, error) {
	var file *model.File
	if job.FileID != "" && a.files != nil {
		f, err := a.files.FindForUser(ctx, job.FileID, job.UserID)
		if err != nil {
			log.Warnf("[Assembler] file %s unavailable for job %s: %v", job.FileID, job.ID, err)
		} else {
			file = f
		}
	}

	system := a.systemPrompt(ctx, job, text, file)

	history, err := a.history(ctx, job.ChatID, text)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, history...)

	if file != nil && file.IsImage() {
		a.attachImage(ctx, msgs, text, file)
	}
	return msgs, nil
}

func (a *Assembler) systemPrompt(ctx context.Context, job model.ChatJob, text string, file *model.File) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(a.cfg.Persona))

	if a.memories != nil && a.cfg.MemoryLimit > 0 {
		facts, err := a.memories.GetRecent(ctx, job.UserID, a.cfg.MemoryLimit)
		if err != nil {
			log.Warnf("[Assembler] load memories failed for user %s: %v", job.UserID, err)
		} else if len(facts) > 0 {
			sb.WriteString("\n\n" + memoryHeader + "\n")
			writeBullets(&sb, facts)
		}
	}

	if rag := a.ragBlock(ctx, job, text); rag != "" {
		sb.WriteString("\n\n" + rag)
	}

	if file != nil && !file.IsImage() {
		if doc := a.documentBlock(ctx, job, text, file); doc != "" {
			sb.WriteString("\n\n" + doc)
		}
	}
	return sb.String()
}

// ragBlock 在用户命名空间内检索相似内容，低于阈值的结果被丢弃，没有结果时返回空串。
func (a *Assembler) ragBlock(ctx context.Context, job model.ChatJob, text string) string {
	if a.vectors == nil || a.cfg.RAGTopK <= 0 {
		return ""
	}
	docs, err := a.vectors.SearchSimilar(ctx, text, job.UserID, a.cfg.RAGTopK)
	if err != nil {
		log.Warnf("[Assembler] rag search failed for job %s: %v", job.ID, err)
		return ""
	}
	kept := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Score >= a.cfg.RAGMinScore {
			kept = append(kept, d.Text)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(a.cfg.RAGLabel + "\n")
	writeBullets(&sb, kept)
	return sb.String()
}

func (a *Assembler) documentBlock(ctx context.Context, job model.ChatJob, text string, file *model.File) string {
	if a.vectors == nil || a.cfg.DocumentTopK <= 0 {
		return ""
	}
	docs, err := a.vectors.SearchFile(ctx, text, job.UserID, file.ID, a.cfg.DocumentTopK)
	if err != nil {
		log.Warnf("[Assembler] document search failed for file %s: %v", file.ID, err)
		return ""
	}
	if len(docs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s)\n", a.cfg.DocumentLabel, file.Name))
	for _, d := range docs {
		sb.WriteString(d.Text)
		sb.WriteString("\n---\n")
	}
	return strings.TrimSuffix(sb.String(), "\n---\n")
}

// history 读取最近的消息并解密。当前消息不在窗口内时追加到末尾。
func (a *Assembler) history(ctx context.Context, chatID, text string) ([]llm.Message, error) {
	rows, err := a.messages.Recent(ctx, chatID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]llm.Message, 0, len(rows)+1)
	for _, m := range rows {
		content := m.Content
		if m.Encrypted {
			plain, err := a.cipher.Decrypt(m.Content)
			if err != nil {
				log.Warnf("[Assembler] skip undecryptable message %d in chat %s", m.ID, chatID)
				continue
			}
			content = plain
		}
		out = append(out, llm.Message{Role: strings.ToLower(m.Role), Content: content})
	}

	// 窗口截止到当前消息；之后的消息属于后续轮次，不参与本轮。
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == llm.RoleUser && out[i].Content == text {
			return out[:i+1], nil
		}
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: text}), nil
}

// attachImage 将图片以 data URL 形式挂到最后一条用户消息上。
func (a *Assembler) attachImage(ctx context.Context, msgs []llm.Message, text string, file *model.File) {
	if a.objects == nil {
		return
	}
	last := len(msgs) - 1
	if last < 0 || msgs[last].Role != llm.RoleUser {
		return
	}
	data, err := a.objects.ReadAll(ctx, file.ObjectKey)
	if err != nil {
		log.Warnf("[Assembler] failed to read image %s: %v", file.ID, err)
		return
	}
	dataURL := "data:" + file.Type + ";base64," + base64.StdEncoding.EncodeToString(data)
	msgs[last] = llm.Message{
		Role: llm.RoleUser,
		Parts: []llm.ContentPart{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: &llm.ImageURL{URL: dataURL}},
		},
	}
}

// Observe 在组装完成后把当前消息写入向量库，并在用户显式要求时记录偏好。均为尽力而为。
func (a *Assembler) Observe(ctx context.Context, job model.ChatJob, text string) {
	if a.vectors != nil {
		meta := map[string]string{"role": "user", "chat_id": job.ChatID}
		if job.FileID != "" {
			meta["file_id"] = job.FileID
		}
		if err := a.vectors.AddDocument(ctx, text, meta, job.UserID); err != nil {
			log.Warnf("[Assembler] vector ingest failed for job %s: %v", job.ID, err)
		}
	}

	if a.memories != nil && ShouldRemember(text) {
		if err := a.memories.Append(ctx, job.UserID, model.MemoryPreference, text, "chat:"+job.ChatID); err != nil {
			log.Warnf("[Assembler] save memory failed for user %s: %v", job.UserID, err)
		}
	}
}

// ShouldRemember 判断消息是否显式要求记住某件事。
func ShouldRemember(text string) bool {
	lower := strings.ToLower(text)
	for _, t := range memoryTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func writeBullets(sb *strings.Builder, items []string) {
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- " + item)
	}
}
