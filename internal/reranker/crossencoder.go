package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCrossEncoderModel is the MS MARCO MiniLM cross-encoder.
const DefaultCrossEncoderModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"

// CrossEncoderClient calls a rerank server hosting a cross-encoder.
//
// Two response shapes are accepted: the text-embeddings-inference array
// [{"index":0,"score":1.2}] and the Jina-style object {"results":[{"index":0,"relevance_score":0.9}]}.
// Raw logits are requested from TEI so scores keep their sign.
type CrossEncoderClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewCrossEncoderClient creates a client for the rerank server at baseURL.
func NewCrossEncoderClient(baseURL, model string) *CrossEncoderClient {
	if model == "" {
		model = DefaultCrossEncoderModel
	}
	return &CrossEncoderClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Documents []string `json:"documents"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankItem struct {
	Index          int      `json:"index"`
	Score          *float32 `json:"score,omitempty"`
	RelevanceScore *float32 `json:"relevance_score,omitempty"`
}

type rerankEnvelope struct {
	Results []rerankItem `json:"results"`
}

// Score implements Reranker.
func (c *CrossEncoderClient) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Texts:     passages,
		Documents: passages,
		RawScores: true,
		Truncate:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, string(raw))
	}

	items, err := decodeRerank(raw)
	if err != nil {
		return nil, err
	}

	scores := make([]float32, len(passages))
	seen := make([]bool, len(passages))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(passages) {
			return nil, fmt.Errorf("rerank result index %d out of range", item.Index)
		}
		switch {
		case item.Score != nil:
			scores[item.Index] = *item.Score
		case item.RelevanceScore != nil:
			scores[item.Index] = *item.RelevanceScore
		default:
			return nil, fmt.Errorf("rerank result %d has no score", item.Index)
		}
		seen[item.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing passage %d", i)
		}
	}
	return scores, nil
}

func decodeRerank(raw []byte) ([]rerankItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []rerankItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode rerank response: %w", err)
		}
		return items, nil
	}

	var env rerankEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return env.Results, nil
}

// ModelName implements Reranker.
func (c *CrossEncoderClient) ModelName() string {
	return c.model
}

var _ Reranker = (*CrossEncoderClient)(nil)
