package mongo

import (
	"testing"
	"time"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestToDoc_NormalizesNilSlices(t *testing.T) {
	doc := toDoc(&repository.Person{PhoneNumber: "+15550000001", Name: "Ada"})

	assert.NotNil(t, doc.Interests)
	assert.NotNil(t, doc.Skills)
	assert.NotNil(t, doc.VectorEmbedding)
	assert.Empty(t, doc.VectorEmbedding)
}

func TestPersonDoc_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	in := &repository.Person{
		PhoneNumber:     "+15550000001",
		Name:            "Ada",
		Interests:       []string{"math"},
		Skills:          []string{"engines"},
		Bio:             "Analyst",
		Location:        "London",
		VectorEmbedding: []float32{0.1, 0.2},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	out := toDoc(in).person()
	assert.Equal(t, in, out)
}
