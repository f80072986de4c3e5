// Package memory provides an in-process person directory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/knoguchi/peermatch/internal/repository"
)

// PersonRepo implements repository.PersonRepository on a map guarded by a RWMutex.
type PersonRepo struct {
	mu     sync.RWMutex
	byKey  map[string]*repository.Person
	order  []string // phone numbers in insertion order
	closed bool
}

// NewPersonRepo creates an empty directory.
func NewPersonRepo() *PersonRepo {
	return &PersonRepo{byKey: make(map[string]*repository.Person)}
}

// FindByPhone returns a copy of the stored person.
func (r *PersonRepo) FindByPhone(ctx context.Context, phone string) (*repository.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byKey[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

// Insert stores a new person, failing on a duplicate phone number.
func (r *PersonRepo) Insert(ctx context.Context, person *repository.Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[person.PhoneNumber]; ok {
		return repository.ErrDuplicatePhone
	}
	r.byKey[person.PhoneNumber] = person.Clone()
	r.order = append(r.order, person.PhoneNumber)
	return nil
}

// UpdateByPhone applies a partial update and reports how many records changed.
func (r *PersonRepo) UpdateByPhone(ctx context.Context, phone string, update repository.PersonUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byKey[phone]
	if !ok {
		return 0, nil
	}
	update.Apply(p)
	return 1, nil
}

// ScanWithEmbedding returns people with vectors in insertion order.
func (r *PersonRepo) ScanWithEmbedding(ctx context.Context) ([]*repository.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var people []*repository.Person
	for _, phone := range r.order {
		p := r.byKey[phone]
		if p.HasEmbedding() {
			people = append(people, p.Clone())
		}
	}
	return people, nil
}

// List returns one page of people in insertion order plus the total count.
func (r *PersonRepo) List(ctx context.Context, limit, offset int) ([]*repository.Person, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := len(r.order)
	if offset >= total {
		return []*repository.Person{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	people := make([]*repository.Person, 0, end-offset)
	for _, phone := range r.order[offset:end] {
		people = append(people, r.byKey[phone].Clone())
	}
	return people, total, nil
}

// DeleteAll removes every person.
func (r *PersonRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := int64(len(r.order))
	r.byKey = make(map[string]*repository.Person)
	r.order = nil
	return n, nil
}

// Ping always succeeds while the repo is open.
func (r *PersonRepo) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return context.Canceled
	}
	return nil
}

// Close marks the repo closed.
func (r *PersonRepo) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

var _ repository.PersonRepository = (*PersonRepo)(nil)
