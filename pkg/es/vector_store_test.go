package es

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) ModelVersion() string { return "fake-emb" }

type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

func newFakeES(t *testing.T, searchReply string) (*elasticsearch.Client, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	reqs := &[]recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"8.19.0"},"tagline":"You Know, for Search"}`))
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		*reqs = append(*reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/_search"):
			_, _ = w.Write([]byte(searchReply))
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`{"result":"created","acknowledged":true}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client, reqs
}

func TestVectorStore_AddDocument(t *testing.T) {
	client, reqs := newFakeES(t, `{}`)
	store := NewVectorStore(client, "vec", fakeEmbedder{})

	err := store.AddDocument(context.Background(), "hello", map[string]string{"role": "user"}, "u1")
	require.NoError(t, err)

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, http.MethodPut, got.Method)
	assert.True(t, strings.HasPrefix(got.Path, "/vec/_doc/"))
	assert.Equal(t, "u1", got.Body["namespace"])
	assert.Equal(t, "hello", got.Body["text_content"])
	assert.Equal(t, "fake-emb", got.Body["model_version"])
}

func TestVectorStore_SearchSimilarFiltersByNamespace(t *testing.T) {
	client, reqs := newFakeES(t, `{"hits":{"hits":[
		{"_score":0.91,"_source":{"text_content":"likes tea","metadata":{"role":"user"}}},
		{"_score":0.52,"_source":{"text_content":"weather","metadata":{}}}
	]}}`)
	store := NewVectorStore(client, "vec", fakeEmbedder{})

	docs, err := store.SearchSimilar(context.Background(), "tea?", "u1", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "likes tea", docs[0].Text)
	assert.InDelta(t, 0.91, docs[0].Score, 1e-9)

	require.Len(t, *reqs, 1)
	knn := (*reqs)[0].Body["knn"].(map[string]interface{})
	assert.EqualValues(t, 5, knn["k"])
	raw, _ := json.Marshal(knn["filter"])
	assert.Contains(t, string(raw), `"namespace":"u1"`)
}

func TestVectorStore_SearchFileAddsFileFilter(t *testing.T) {
	client, reqs := newFakeES(t, `{"hits":{"hits":[]}}`)
	store := NewVectorStore(client, "vec", fakeEmbedder{})

	docs, err := store.SearchFile(context.Background(), "q", "u1", "f1", 3)
	require.NoError(t, err)
	assert.Empty(t, docs)
	raw, _ := json.Marshal((*reqs)[0].Body["knn"])
	assert.Contains(t, string(raw), `"metadata.file_id":"f1"`)
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	client, reqs := newFakeES(t, `{}`)
	require.NoError(t, EnsureIndex(client, "vec", 3))
	require.Len(t, *reqs, 2)
	assert.Equal(t, http.MethodHead, (*reqs)[0].Method)
	assert.Equal(t, http.MethodPut, (*reqs)[1].Method)
	raw, _ := json.Marshal((*reqs)[1].Body)
	assert.Contains(t, string(raw), `"dims":3`)
}

func TestVectorStore_DeleteFile(t *testing.T) {
	client, reqs := newFakeES(t, `{}`)
	store := NewVectorStore(client, "vec", fakeEmbedder{})

	require.NoError(t, store.DeleteFile(context.Background(), "u1", "f1"))
	require.Len(t, *reqs, 1)
	assert.Equal(t, "/vec/_delete_by_query", (*reqs)[0].Path)
	raw, _ := json.Marshal((*reqs)[0].Body)
	assert.Contains(t, string(raw), `"metadata.file_id":"f1"`)
}
