package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/repository/memory"
)

const fakeDim = 64

// tokens splits text into lowercase words, dropping the profile labels.
func tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := words[:0]
	for _, w := range words {
		switch w {
		case "interests", "skills", "bio", "in", "someone", "skilled", "a", "the":
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

// bagEmbedder gives every distinct word its own dimension and counts occurrences, so texts
// sharing a word have positive cosine similarity and disjoint texts have similarity 0.
type bagEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls []string
	err   error
}

func (e *bagEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if e.err != nil {
		return nil, e.err
	}

	words := tokens(text)
	if len(words) == 0 {
		return []float32{}, nil
	}
	if e.vocab == nil {
		e.vocab = map[string]int{}
	}
	vec := make([]float32, fakeDim)
	for _, w := range words {
		idx, ok := e.vocab[w]
		if !ok {
			idx = len(e.vocab) % fakeDim
			e.vocab[w] = idx
		}
		vec[idx]++
	}
	return vec, nil
}

func (e *bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *bagEmbedder) Dimension() int    { return fakeDim }
func (e *bagEmbedder) ModelName() string { return "bag" }

func (e *bagEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// overlapReranker scores a passage by the number of query words it contains, or -1.
type overlapReranker struct {
	passages [][]string
	err      error
}

func (r *overlapReranker) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	r.passages = append(r.passages, passages)
	if r.err != nil {
		return nil, r.err
	}

	q := tokens(query)
	scores := make([]float32, len(passages))
	for i, p := range passages {
		words := map[string]bool{}
		for _, w := range tokens(p) {
			words[w] = true
		}
		score := float32(-1)
		for _, w := range q {
			if words[w] {
				if score < 0 {
					score = 0
				}
				score++
			}
		}
		scores[i] = score
	}
	return scores, nil
}

func (r *overlapReranker) ModelName() string { return "overlap" }

// failingRepo wraps the in-memory directory and fails selected calls.
type failingRepo struct {
	*memory.PersonRepo
	scanErr   error
	insertErr error
}

func (f *failingRepo) ScanWithEmbedding(ctx context.Context) ([]*repository.Person, error) {
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.PersonRepo.ScanWithEmbedding(ctx)
}

func (f *failingRepo) Insert(ctx context.Context, p *repository.Person) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.PersonRepo.Insert(ctx, p)
}

var errBoom = errors.New("boom")

func strPtr(s string) *string { return &s }

func listPtr(items ...string) *[]string { return &items }
