package pipeline

import (
	"context"
	"errors"
	"io"
	"sentinel-chat-go/internal/model"
	"sentinel-chat-go/pkg/tasks"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, r io.Reader, fileName, mimeType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, _ := io.ReadAll(r)
	return string(b), nil
}

type fakeChunks struct {
	rows    []*model.DocumentChunk
	deletes int
}

func (f *fakeChunks) BatchCreate(chunks []*model.DocumentChunk) error {
	f.rows = append(f.rows, chunks...)
	return nil
}

func (f *fakeChunks) FindByFileID(fileID string) ([]*model.DocumentChunk, error) {
	return f.rows, nil
}

func (f *fakeChunks) DeleteByFileID(fileID string) error {
	f.deletes++
	f.rows = nil
	return nil
}

func TestIngestProcessor_Process(t *testing.T) {
	text := strings.Repeat("x", 2500)
	objects := &fakeObjects{data: map[string][]byte{"u1/doc.txt": []byte(text)}}
	chunks := &fakeChunks{}
	vec := &fakeVectors{}
	p := NewIngestProcessor(objects, &fakeExtractor{}, chunks, vec)

	task := tasks.IngestTask{FileID: "f1", UserID: "u1", ObjectKey: "u1/doc.txt", FileName: "doc.txt", MimeType: "text/plain"}
	require.NoError(t, p.Process(context.Background(), task))
	assert.Len(t, chunks.rows, 3)
	assert.Len(t, vec.added, 3)
	assert.Equal(t, []string{"f1"}, vec.deleted)

	// 再次处理同一文件不会累积分块
	require.NoError(t, p.Process(context.Background(), task))
	assert.Len(t, chunks.rows, 3)
	assert.Equal(t, 2, chunks.deletes)
}

func TestIngestProcessor_SkipsImagesAndReportsErrors(t *testing.T) {
	p := NewIngestProcessor(&fakeObjects{}, &fakeExtractor{}, &fakeChunks{}, &fakeVectors{})
	assert.NoError(t, p.Process(context.Background(), tasks.IngestTask{FileID: "f", MimeType: "image/png"}))
	assert.Error(t, p.Process(context.Background(), tasks.IngestTask{FileID: "f", ObjectKey: "missing"}))

	objects := &fakeObjects{data: map[string][]byte{"k": []byte("data")}}
	p = NewIngestProcessor(objects, &fakeExtractor{err: errors.New("tika down")}, &fakeChunks{}, &fakeVectors{})
	assert.Error(t, p.Process(context.Background(), tasks.IngestTask{FileID: "f", ObjectKey: "k"}))
}

func TestSplitText(t *testing.T) {
	assert.Nil(t, SplitText("", 10, 2))
	chunks := SplitText("abcdefghij", 4, 1)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, chunks)
	assert.Equal(t, []string{"ab", "cd"}, SplitText("abcd", 2, 5))
	assert.Equal(t, []string{"你好世", "世界"}, SplitText("你好世界", 3, 1))
}
