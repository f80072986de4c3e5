package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/peermatch/internal/llm"
)

// LLMReranker asks a general LLM to grade each candidate against the query.
// It stands in for a cross-encoder when no rerank server is available.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     llm.DefaultModel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type relevanceScore struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

type gradeResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Score grades every passage in one prompt. Missing grades score 0, which the matcher drops.
func (r *LLMReranker) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	response, err := r.llmClient.Generate(ctx, r.buildPrompt(query, passages), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   512,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	return parseGrades(response, len(passages))
}

func (r *LLMReranker) buildPrompt(query string, passages []string) string {
	var sb strings.Builder

	sb.WriteString("You match people for introductions. Grade how well each person fits the request.\n\n")
	sb.WriteString("Request: ")
	sb.WriteString(query)
	sb.WriteString("\n\nPeople:\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n", i, p)
	}
	sb.WriteString(`
Grade each person from 0.0 (unrelated) to 1.0 (ideal fit).
Output ONLY valid JSON in this exact format:
{"scores": [{"index": 0, "score": 0.9}, {"index": 1, "score": 0.1}]}`)

	return sb.String()
}

// parseGrades extracts scores from the response, tolerating markdown code fences.
func parseGrades(response string, n int) ([]float32, error) {
	response = strings.TrimSpace(response)
	if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if strings.HasPrefix(response[start:], "json") {
			start += 4
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed gradeResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float32, n)
	for _, s := range parsed.Scores {
		if s.Index < 0 || s.Index >= n {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.Index] = score
	}
	return scores, nil
}

// ModelName implements Reranker.
func (r *LLMReranker) ModelName() string {
	return r.model
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
