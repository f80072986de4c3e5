// Package repository defines the person record and the directory interface that stores it.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicatePhone is returned when an insert collides with an existing phone number
var ErrDuplicatePhone = errors.New("duplicate phone number")

// Person is one registered individual. PhoneNumber is the primary key.
type Person struct {
	PhoneNumber     string
	Name            string
	Interests       []string
	Skills          []string
	Bio             string
	Location        string
	VectorEmbedding []float32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasEmbedding reports whether a vector has been computed for the person.
func (p *Person) HasEmbedding() bool {
	return len(p.VectorEmbedding) > 0
}

// Clone returns a deep copy so callers can mutate slices freely.
func (p *Person) Clone() *Person {
	c := *p
	c.Interests = append([]string(nil), p.Interests...)
	c.Skills = append([]string(nil), p.Skills...)
	c.VectorEmbedding = append([]float32(nil), p.VectorEmbedding...)
	return &c
}

// PersonUpdate is a partial write. Nil fields are left untouched.
// A non-nil VectorEmbedding pointing at an empty slice clears the stored vector.
type PersonUpdate struct {
	Name            *string
	Location        *string
	Bio             *string
	Interests       *[]string
	Skills          *[]string
	VectorEmbedding *[]float32
	UpdatedAt       time.Time
}

// Apply writes the set fields of u onto p. Backends without partial-update support use it
// to build the full record before writing.
func (u PersonUpdate) Apply(p *Person) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.Interests != nil {
		p.Interests = append([]string(nil), (*u.Interests)...)
	}
	if u.Skills != nil {
		p.Skills = append([]string(nil), (*u.Skills)...)
	}
	if u.VectorEmbedding != nil {
		p.VectorEmbedding = append([]float32(nil), (*u.VectorEmbedding)...)
	}
	if !u.UpdatedAt.IsZero() {
		p.UpdatedAt = u.UpdatedAt
	}
}

// PersonRepository defines operations for person persistence.
//
// ScanWithEmbedding returns every person with a non-empty vector in insertion order;
// there is no vector index, callers score candidates themselves.
type PersonRepository interface {
	FindByPhone(ctx context.Context, phone string) (*Person, error)
	Insert(ctx context.Context, person *Person) error
	UpdateByPhone(ctx context.Context, phone string, update PersonUpdate) (int64, error)
	ScanWithEmbedding(ctx context.Context) ([]*Person, error)
	List(ctx context.Context, limit, offset int) ([]*Person, int, error)
	DeleteAll(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
