package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knoguchi/peermatch/internal/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileText(t *testing.T) {
	tests := []struct {
		name      string
		interests []string
		skills    []string
		bio       string
		want      string
	}{
		{"all sections", []string{"AI", "hiking"}, []string{"Python", "Go"}, "Builder", "Interests: AI, hiking. Skills: Python, Go. Bio: Builder"},
		{"skills only", nil, []string{"x"}, "", "Skills: x"},
		{"blank bio omitted", []string{}, []string{"x"}, "   ", "Skills: x"},
		{"blank items skipped", []string{" ", "chess"}, nil, "", "Interests: chess"},
		{"bio only", nil, nil, "Hello", "Bio: Hello"},
		{"empty", nil, nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProfileText(tt.interests, tt.skills, tt.bio))
		})
	}
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{1, 0, 0}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i + 1), 0, 0}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int    { return 3 }
func (c *countingEmbedder) ModelName() string { return "counting" }

func TestGuarded_BlankTextSkipsModel(t *testing.T) {
	inner := &countingEmbedder{}
	g := NewGuarded(inner, nil)

	v, err := g.Embed(context.Background(), "  \n ")
	require.NoError(t, err)
	assert.Empty(t, v)
	assert.Zero(t, inner.calls)
}

func TestGuarded_BatchKeepsPositions(t *testing.T) {
	inner := &countingEmbedder{}
	g := NewGuarded(inner, nil)

	out, err := g.EmbedBatch(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{1, 0, 0}, out[0])
	assert.Empty(t, out[1])
	assert.Equal(t, []float32{2, 0, 0}, out[2])
	assert.Equal(t, 1, inner.calls)
}

func TestGuarded_OpenCircuit(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("down")}
	g := NewGuarded(inner, breaker.New("embedder", breaker.Config{MaxFailures: 1}))

	_, err := g.Embed(context.Background(), "hello")
	require.Error(t, err)

	_, err = g.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
	assert.Equal(t, 1, inner.calls)
}

func TestWarmup(t *testing.T) {
	require.NoError(t, Warmup(context.Background(), &countingEmbedder{}))
	assert.Error(t, Warmup(context.Background(), &countingEmbedder{err: errors.New("no model")}))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)

		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{0.1, 0.2})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	assert.Equal(t, 384, e.Dimension())

	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestOllamaEmbedder_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	_, err := e.Embed(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestOpenAIEmbedder_RestoresOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		],"model":"m"}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL, Model: "m", Dimension: 2})
	out, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Equal(t, []float32{0, 1}, out[1])
}
