package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/knoguchi/peermatch/internal/breaker"
	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossEncoderClient_TEIResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.RawScores)
		assert.Equal(t, "python developer", req.Query)
		assert.Len(t, req.Texts, 2)

		// TEI sorts by score, not by input order.
		_, _ = w.Write([]byte(`[{"index":1,"score":4.5},{"index":0,"score":-2.25}]`))
	}))
	defer server.Close()

	c := NewCrossEncoderClient(server.URL, "")
	scores, err := c.Score(context.Background(), "python developer", []string{"Skills: Excel", "Skills: Python"})
	require.NoError(t, err)
	assert.Equal(t, []float32{-2.25, 4.5}, scores)
	assert.Equal(t, DefaultCrossEncoderModel, c.ModelName())
}

func TestCrossEncoderClient_JinaResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"index":0,"relevance_score":0.75}]}`))
	}))
	defer server.Close()

	scores, err := NewCrossEncoderClient(server.URL, "bge").Score(context.Background(), "q", []string{"p"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.75}, scores)
}

func TestCrossEncoderClient_MissingPassage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"index":0,"score":1}]`))
	}))
	defer server.Close()

	_, err := NewCrossEncoderClient(server.URL, "").Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

func TestCrossEncoderClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewCrossEncoderClient(server.URL, "").Score(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

type fakeLLM struct {
	response string
	err      error
	prompt   string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.prompt = prompt
	return f.response, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func TestLLMReranker_ParsesFencedJSON(t *testing.T) {
	f := &fakeLLM{response: "```json\n{\"scores\":[{\"index\":1,\"score\":0.9},{\"index\":0,\"score\":1.7}]}\n```"}
	r := NewLLMReranker(f, WithModel("llama3.2"))

	scores, err := r.Score(context.Background(), "hiker", []string{"Interests: chess", "Interests: hiking", "Bio: x"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.9, 0}, scores)
	assert.Contains(t, f.prompt, "[1] Interests: hiking")
}

func TestLLMReranker_InvalidJSONIsAnError(t *testing.T) {
	r := NewLLMReranker(&fakeLLM{response: "I think the second one"})
	_, err := r.Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

type staticReranker struct {
	scores []float32
	err    error
}

func (s staticReranker) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	return s.scores, s.err
}

func (s staticReranker) ModelName() string { return "static" }

func TestGuarded_RejectsLengthMismatch(t *testing.T) {
	g := NewGuarded(staticReranker{scores: []float32{1}}, breaker.New("reranker", breaker.Config{}))
	_, err := g.Score(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}

func TestGuarded_EmptyPassagesSkipsModel(t *testing.T) {
	g := NewGuarded(staticReranker{err: errors.New("should not be called")}, breaker.New("reranker", breaker.Config{}))
	scores, err := g.Score(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}
