package service

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-2, 0.5, 4}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity(a, []float32{-1, -2, -3}), 1e-9)
	assert.Zero(t, CosineSimilarity(a, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity(a, []float32{0, 0, 0}))
	assert.Zero(t, CosineSimilarity(nil, nil))
}

func TestTopCandidates_FiltersSortsAndTruncates(t *testing.T) {
	query := []float32{1, 0}
	var people []*repository.Person
	for i := 0; i < 10; i++ {
		// Angles step away from the query; the last ones are orthogonal or opposed.
		angle := float64(i) * math.Pi / 16
		people = append(people, &repository.Person{
			PhoneNumber:     fmt.Sprintf("+1555000000%d", i),
			VectorEmbedding: []float32{float32(math.Cos(angle)), float32(math.Sin(angle))},
		})
	}
	// Reverse so the sort has work to do.
	for i, j := 0, len(people)-1; i < j; i, j = i+1, j-1 {
		people[i], people[j] = people[j], people[i]
	}

	got := TopCandidates(query, people, TopK)
	require.Len(t, got, TopK)
	for i, c := range got {
		assert.Greater(t, c.Similarity, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].Similarity, c.Similarity)
		}
	}
	assert.Equal(t, "+15550000000", got[0].Person.PhoneNumber)
}

func TestTopCandidates_StableTies(t *testing.T) {
	vec := []float32{1, 1}
	people := []*repository.Person{
		{PhoneNumber: "+1a", VectorEmbedding: vec},
		{PhoneNumber: "+1b", VectorEmbedding: vec},
		{PhoneNumber: "+1c", VectorEmbedding: []float32{-1, -1}},
	}

	got := TopCandidates(vec, people, TopK)
	require.Len(t, got, 2)
	assert.Equal(t, "+1a", got[0].Person.PhoneNumber)
	assert.Equal(t, "+1b", got[1].Person.PhoneNumber)
}

func seedMatches(t *testing.T, repo repository.PersonRepository, emb *bagEmbedder) {
	t.Helper()
	svc := NewPersonService(repo, emb)
	people := []CreatePersonInput{
		{PhoneNumber: "+15551234567", Name: "Ada", Location: "London", Interests: []string{"AI"}, Skills: []string{"Python"}},
		{PhoneNumber: "+15551234568", Name: "Grace", Location: "Arlington", Interests: []string{"compilers"}, Skills: []string{"COBOL", "Python"}, Bio: "Navy officer"},
		{PhoneNumber: "+15551234569", Name: "Linus", Interests: []string{"kernels"}, Skills: []string{"C"}},
	}
	for _, p := range people {
		_, err := svc.Create(context.Background(), p)
		require.NoError(t, err)
	}
}

func TestMatchService_FindSimilar(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPersonRepo()
	emb := &bagEmbedder{}
	rr := &overlapReranker{}
	seedMatches(t, repo, emb)
	svc := NewMatchService(repo, emb, rr, nil)

	matches, err := svc.FindSimilar(ctx, "someone skilled in Python")
	require.NoError(t, err)
	require.Len(t, matches, 2)

	phones := []string{matches[0].PhoneNumber, matches[1].PhoneNumber}
	assert.Contains(t, phones, "+15551234567")
	assert.Contains(t, phones, "+15551234568")
	for _, m := range matches {
		assert.Greater(t, m.Score, 0.0)
		assert.Greater(t, m.SimilarityPercent, 0.0)
		assert.LessOrEqual(t, m.SimilarityPercent, 100.0)
	}

	// The reranker sees profile text, not the stored vectors.
	require.Len(t, rr.passages, 1)
	assert.Contains(t, rr.passages[0], "Interests: AI. Skills: Python")
	assert.NotContains(t, rr.passages[0], "Interests: kernels. Skills: C")
}

func TestMatchService_BestMatchFormatsFields(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPersonRepo()
	emb := &bagEmbedder{}
	seedMatches(t, repo, emb)
	svc := NewMatchService(repo, emb, &overlapReranker{}, nil)

	best, err := svc.BestMatch(ctx, "COBOL compilers")
	require.NoError(t, err)
	assert.Equal(t, "Grace", best.Name)
	assert.Equal(t, "COBOL, Python", best.Skills)
	assert.Equal(t, "compilers", best.Interests)
	assert.Equal(t, "Navy officer", best.Bio)
	assert.EqualValues(t, 2, best.Score)
}

func TestMatchService_EmptyQueryMakesNoEmbedCall(t *testing.T) {
	emb := &bagEmbedder{}
	svc := NewMatchService(memory.NewPersonRepo(), emb, &overlapReranker{}, nil)

	for _, q := range []string{"", "   \t"} {
		_, err := svc.FindSimilar(context.Background(), q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.Equal(t, KindValidation, KindOf(err))
	}
	assert.Zero(t, emb.callCount())
}

func TestMatchService_NoMatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPersonRepo()
	emb := &bagEmbedder{}
	seedMatches(t, repo, emb)
	rr := &overlapReranker{}
	svc := NewMatchService(repo, emb, rr, nil)

	// No shared words: zero cosine everywhere, reranker never called.
	_, err := svc.FindSimilar(ctx, "underwater basket weaving")
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Empty(t, rr.passages)

	empty := NewMatchService(memory.NewPersonRepo(), emb, rr, nil)
	_, err = empty.FindSimilar(ctx, "Python")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchService_DependencyFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("embedding", func(t *testing.T) {
		svc := NewMatchService(memory.NewPersonRepo(), &bagEmbedder{err: errBoom}, &overlapReranker{}, nil)
		_, err := svc.FindSimilar(ctx, "Python")
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.True(t, IsRetryable(err))
	})

	t.Run("empty vector", func(t *testing.T) {
		svc := NewMatchService(memory.NewPersonRepo(), &bagEmbedder{}, &overlapReranker{}, nil)
		// Only stop words, so the fake returns an empty vector.
		_, err := svc.FindSimilar(ctx, "someone skilled in")
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("directory", func(t *testing.T) {
		repo := &failingRepo{PersonRepo: memory.NewPersonRepo(), scanErr: errBoom}
		svc := NewMatchService(repo, &bagEmbedder{}, &overlapReranker{}, nil)
		_, err := svc.FindSimilar(ctx, "Python")
		assert.Equal(t, KindDependency, KindOf(err))
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("reranker", func(t *testing.T) {
		repo := memory.NewPersonRepo()
		emb := &bagEmbedder{}
		seedMatches(t, repo, emb)
		svc := NewMatchService(repo, emb, &overlapReranker{err: errBoom}, nil)
		_, err := svc.FindSimilar(ctx, "Python")
		assert.Equal(t, KindDependency, KindOf(err))
	})
}

func TestMatchService_PreRerankSetIsBounded(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewPersonRepo()
	emb := &bagEmbedder{}
	svc := NewPersonService(repo, emb)
	for i := 0; i < 9; i++ {
		_, err := svc.Create(ctx, CreatePersonInput{
			PhoneNumber: fmt.Sprintf("+1555000001%d", i),
			Name:        fmt.Sprintf("Go dev %d", i),
			Skills:      []string{"Go"},
		})
		require.NoError(t, err)
	}

	rr := &overlapReranker{}
	matches, err := NewMatchService(repo, emb, rr, nil).FindSimilar(ctx, "Go")
	require.NoError(t, err)
	require.Len(t, rr.passages, 1)
	assert.Len(t, rr.passages[0], TopK)
	assert.Len(t, matches, TopK)
	// Equal scores keep directory order.
	assert.Equal(t, "+15550000010", matches[0].PhoneNumber)
}
