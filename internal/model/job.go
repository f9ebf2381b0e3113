package model

import "time"

// JobState 表示聊天任务在队列中的状态。
// 状态单调推进: queued -> active -> completed，或 failed -> (重试) active ... -> dead。
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead"
)

// Terminal 判断状态是否为终态。
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobDead
}

// ChatJob 是一次异步对话补全任务。ID 同时作为幂等键。
type ChatJob struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	FileID    string    `json:"file_id,omitempty"`
	RequestID string    `json:"request_id"`
	Attempt   int       `json:"attempt"`
	State     JobState  `json:"state"`
	Result    string    `json:"-"` // 加密后的最终回复
	LastError string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
