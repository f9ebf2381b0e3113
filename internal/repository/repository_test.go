package repository

import (
	"context"
	"sentinel-chat-go/internal/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&model.Message{}, &model.Chat{}, &model.Memory{}, &model.UsageMetric{},
		&model.AuditLog{}, &model.Session{}, &model.File{}, &model.DocumentChunk{},
	))
	return db
}

func TestMessageRepository_RecentIsChronologicalTail(t *testing.T) {
	db := openTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &model.Message{
			ChatID:    "chat-1",
			Role:      model.RoleUser,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// 相同时间戳按插入顺序排序
	same := base.Add(10 * time.Minute)
	require.NoError(t, repo.Append(ctx, &model.Message{ChatID: "chat-1", Role: model.RoleUser, Content: "x", CreatedAt: same}))
	require.NoError(t, repo.Append(ctx, &model.Message{ChatID: "chat-1", Role: model.RoleAssistant, Content: "y", CreatedAt: same}))
	require.NoError(t, repo.Append(ctx, &model.Message{ChatID: "chat-2", Role: model.RoleUser, Content: "other"}))

	msgs, err := repo.Recent(ctx, "chat-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "e", msgs[0].Content)
	assert.Equal(t, "x", msgs[1].Content)
	assert.Equal(t, "y", msgs[2].Content)
}

func TestMemoryRepository_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	repo := NewMemoryRepository(db)
	ctx := context.Background()

	for _, fact := range []string{"likes go", "lives in berlin", "prefers short answers"} {
		require.NoError(t, repo.Append(ctx, "u1", model.MemoryPreference, fact, "chat"))
	}
	require.NoError(t, repo.Append(ctx, "u2", model.MemoryUserFact, "someone else", "chat"))

	facts, err := repo.GetRecent(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"prefers short answers", "lives in berlin"}, facts)
}

func TestUsageRepository_SumSince(t *testing.T) {
	db := openTestDB(t)
	repo := NewUsageRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, "u1", 100))
	require.NoError(t, repo.Record(ctx, "u1", 50))
	require.NoError(t, repo.Record(ctx, "u2", 999))
	require.NoError(t, db.Create(&model.UsageMetric{UserID: "u1", Tokens: 7, CreatedAt: time.Now().Add(-48 * time.Hour)}).Error)

	total, err := repo.SumSince(ctx, "u1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 150, total)

	total, err = repo.SumSince(ctx, "nobody", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestAuditAndSessionCleanup_Idempotent(t *testing.T) {
	db := openTestDB(t)
	audits := NewAuditRepository(db)
	sessions := NewSessionRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.Create(&model.AuditLog{UserID: "u1", Action: "old", CreatedAt: now.AddDate(0, 0, -40)}).Error)
	require.NoError(t, audits.Create(ctx, "u1", "SECURITY_BLOCK: test"))
	require.NoError(t, db.Create(&model.Session{ID: "s1", UserID: "u1", ExpiresAt: now.Add(-time.Minute)}).Error)
	require.NoError(t, db.Create(&model.Session{ID: "s2", UserID: "u1", ExpiresAt: now.Add(time.Hour)}).Error)

	for i, want := range []int64{1, 0} {
		n, err := audits.DeleteOlderThan(ctx, now.AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.Equal(t, want, n, "audit pass %d", i)

		n, err = sessions.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, want, n, "session pass %d", i)
	}

	var remaining int64
	require.NoError(t, db.Model(&model.AuditLog{}).Count(&remaining).Error)
	assert.EqualValues(t, 1, remaining)
}

func TestFileAndChatOwnership(t *testing.T) {
	db := openTestDB(t)
	files := NewFileRepository(db)
	chats := NewChatRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.File{ID: "f1", UserID: "u1", Name: "a.png", Type: "image/png", ObjectKey: "u1/a.png"}).Error)
	require.NoError(t, db.Create(&model.Chat{ID: "c1", UserID: "u1"}).Error)

	f, err := files.FindForUser(ctx, "f1", "u1")
	require.NoError(t, err)
	assert.True(t, f.IsImage())

	_, err = files.FindForUser(ctx, "f1", "u2")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := chats.OwnedBy(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = chats.OwnedBy(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentChunkRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentChunkRepository(db)

	require.NoError(t, repo.BatchCreate([]*model.DocumentChunk{
		{FileID: "f1", ChunkID: 1, TextContent: "second", UserID: "u1"},
		{FileID: "f1", ChunkID: 0, TextContent: "first", UserID: "u1"},
	}))
	chunks, err := repo.FindByFileID("f1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].TextContent)

	require.NoError(t, repo.DeleteByFileID("f1"))
	chunks, err = repo.FindByFileID("f1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.NoError(t, repo.BatchCreate(nil))
}
