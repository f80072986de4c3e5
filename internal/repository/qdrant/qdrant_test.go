package qdrant

import (
	"testing"
	"time"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID_StablePerPhone(t *testing.T) {
	a := pointID("+15550000001").GetUuid()
	b := pointID("+15550000001").GetUuid()
	c := pointID("+15550000002").GetUuid()

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPayload_RoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := &repository.Person{
		PhoneNumber: "+15550000001",
		Name:        "Ada",
		Interests:   []string{"math", "poetry"},
		Skills:      []string{"analysis"},
		Bio:         "Analyst",
		Location:    "London",
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Minute),
	}

	payload, err := toPayload(in)
	require.NoError(t, err)
	assert.False(t, payload[keyEmbedded].GetBoolValue())

	out, err := fromPoint(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, in.Interests, out.Interests)
	assert.Equal(t, in.Skills, out.Skills)
	assert.Equal(t, in.Location, out.Location)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	assert.Empty(t, out.VectorEmbedding)
}

func TestSortByCreation(t *testing.T) {
	t0 := time.Unix(100, 0)
	people := []*repository.Person{
		{PhoneNumber: "+3", CreatedAt: t0.Add(time.Second)},
		{PhoneNumber: "+2", CreatedAt: t0},
		{PhoneNumber: "+1", CreatedAt: t0},
	}
	sortByCreation(people)

	assert.Equal(t, "+1", people[0].PhoneNumber)
	assert.Equal(t, "+2", people[1].PhoneNumber)
	assert.Equal(t, "+3", people[2].PhoneNumber)
}
