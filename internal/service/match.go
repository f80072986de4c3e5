package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/knoguchi/peermatch/internal/embedder"
	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/reranker"
)

// TopK is the number of cosine candidates passed to the reranker.
const TopK = 5

// Candidate is a directory entry with its cosine similarity to the query.
type Candidate struct {
	Person     *repository.Person
	Similarity float64
}

// Match is a reranked result ready for display.
type Match struct {
	PhoneNumber string
	Name        string
	Interests   string
	Skills      string
	Bio         string
	Location    string
	// Score is the cross-encoder score, the canonical ranking value.
	Score float64
	// SimilarityPercent is the cosine similarity scaled to 0..100, rounded to 2 places.
	SimilarityPercent float64
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|). Vectors of different length or zero
// norm have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopCandidates scores people against query, drops similarity <= 0 and returns at most k
// in descending order. Ties keep the order of people.
func TopCandidates(query []float32, people []*repository.Person, k int) []Candidate {
	candidates := make([]Candidate, 0, len(people))
	for _, p := range people {
		sim := CosineSimilarity(query, p.VectorEmbedding)
		if sim <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{Person: p, Similarity: sim})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// MatchService finds the people most similar to a free-text description.
type MatchService struct {
	repo     repository.PersonRepository
	embedder embedder.Embedder
	reranker reranker.Reranker
	logger   *slog.Logger
}

// NewMatchService creates a MatchService. A nil logger uses slog.Default().
func NewMatchService(repo repository.PersonRepository, emb embedder.Embedder, rr reranker.Reranker, logger *slog.Logger) *MatchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchService{
		repo:     repo,
		embedder: emb,
		reranker: rr,
		logger:   logger,
	}
}

// FindSimilar returns the reranked matches for query, best first. It returns ErrNoMatch
// when no candidate has positive cosine similarity and positive rerank score.
func (s *MatchService) FindSimilar(ctx context.Context, query string) ([]Match, error) {
	const op = "match.find_similar"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, wrap(op, ErrEmbeddingUnavailable, err)
	}
	if len(vec) == 0 {
		return nil, wrap(op, ErrEmbeddingUnavailable, nil)
	}

	people, err := s.repo.ScanWithEmbedding(ctx)
	if err != nil {
		return nil, dependency(op, "directory scan", err)
	}

	candidates := TopCandidates(vec, people, TopK)
	if len(candidates) == 0 {
		s.logger.Debug("no cosine candidates", "query", query, "scanned", len(people))
		return nil, ErrNoMatch
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = embedder.ProfileText(c.Person.Interests, c.Person.Skills, c.Person.Bio)
	}

	scores, err := s.reranker.Score(ctx, query, passages)
	if err != nil {
		return nil, dependency(op, "reranking", err)
	}
	if len(scores) != len(candidates) {
		return nil, internal(op, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates)))
	}

	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		if scores[i] <= 0 {
			continue
		}
		matches = append(matches, newMatch(c, float64(scores[i])))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	s.logger.Debug("similarity search",
		"scanned", len(people),
		"candidates", len(candidates),
		"matches", len(matches),
		"reranker", s.reranker.ModelName())

	if len(matches) == 0 {
		return nil, ErrNoMatch
	}
	return matches, nil
}

// BestMatch returns the single best match for query.
func (s *MatchService) BestMatch(ctx context.Context, query string) (*Match, error) {
	matches, err := s.FindSimilar(ctx, query)
	if err != nil {
		return nil, err
	}
	return &matches[0], nil
}

func newMatch(c Candidate, score float64) Match {
	p := c.Person
	return Match{
		PhoneNumber:       p.PhoneNumber,
		Name:              p.Name,
		Interests:         strings.Join(p.Interests, ", "),
		Skills:            strings.Join(p.Skills, ", "),
		Bio:               p.Bio,
		Location:          p.Location,
		Score:             score,
		SimilarityPercent: math.Round(c.Similarity*100*100) / 100,
	}
}
