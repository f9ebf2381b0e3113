package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sentinel-chat-go/internal/config"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)
		assert.Equal(t, 3, req.Dimensions)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, Model: "emb", Dimensions: 3})
	vec, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "emb", c.ModelVersion())
}

func TestCreateEmbedding_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "bad"}).CreateEmbedding(context.Background(), "x")
	assert.Error(t, err)

	_, err = NewClient(config.EmbeddingConfig{BaseURL: srv.URL}).CreateEmbedding(context.Background(), "x")
	assert.Error(t, err)
}
