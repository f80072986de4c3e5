package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/knoguchi/peermatch/internal/embedder"
	"github.com/knoguchi/peermatch/internal/repository"
)

// phoneRegex accepts E.164: "+", a non-zero digit, then 1 to 14 more digits.
var phoneRegex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidPhone reports whether phone is in E.164 format.
func ValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// Pagination defaults
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// CreatePersonInput is the payload for registering a person.
type CreatePersonInput struct {
	PhoneNumber string
	Name        string
	Interests   []string
	Skills      []string
	Bio         string
	Location    string
}

// PersonPage is one page of the directory.
type PersonPage struct {
	People     []*repository.Person
	TotalCount int
	Page       int
	PerPage    int
	TotalPages int
}

// PersonService manages person records and keeps their embeddings current.
type PersonService struct {
	repo     repository.PersonRepository
	embedder embedder.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// PersonServiceOption is a functional option for configuring PersonService.
type PersonServiceOption func(*PersonService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) PersonServiceOption {
	return func(s *PersonService) {
		s.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) PersonServiceOption {
	return func(s *PersonService) {
		s.now = now
	}
}

// NewPersonService creates a PersonService. emb should return an empty vector for blank
// text (see embedder.Guarded).
func NewPersonService(repo repository.PersonRepository, emb embedder.Embedder, opts ...PersonServiceOption) *PersonService {
	s := &PersonService{
		repo:     repo,
		embedder: emb,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and registers a new person.
func (s *PersonService) Create(ctx context.Context, in CreatePersonInput) (*repository.Person, error) {
	const op = "person.create"

	phone := strings.TrimSpace(in.PhoneNumber)
	name := strings.TrimSpace(in.Name)
	switch {
	case phone == "":
		return nil, ErrMissingPhone
	case name == "":
		return nil, ErrMissingName
	case !ValidPhone(phone):
		return nil, ErrInvalidPhone
	}

	// Check first for a clean conflict; the unique constraint still catches races below.
	if _, err := s.repo.FindByPhone(ctx, phone); err == nil {
		return nil, ErrPhoneExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, dependency(op, "directory lookup", err)
	}

	now := s.now()
	p := &repository.Person{
		PhoneNumber: phone,
		Name:        name,
		Interests:   MergeUnique(nil, in.Interests),
		Skills:      MergeUnique(nil, in.Skills),
		Bio:         strings.TrimSpace(in.Bio),
		Location:    strings.TrimSpace(in.Location),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	vec, err := s.embedProfile(ctx, p)
	if err != nil {
		return nil, dependency(op, "embedding", err)
	}
	p.VectorEmbedding = vec

	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicatePhone) {
			return nil, wrap(op, ErrPhoneExists, err)
		}
		return nil, dependency(op, "directory insert", err)
	}

	s.logger.Info("person created", "phone", phone, "has_embedding", p.HasEmbedding())
	return p, nil
}

// Get returns the person registered under phone.
func (s *PersonService) Get(ctx context.Context, phone string) (*repository.Person, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrMissingPhone
	}

	p, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPersonNotFound
		}
		return nil, dependency("person.get", "directory lookup", err)
	}
	return p, nil
}

// List returns a page of people. page < 1 becomes 1; perPage outside 1..100 becomes 10.
func (s *PersonService) List(ctx context.Context, page, perPage int) (*PersonPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}

	people, total, err := s.repo.List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, dependency("person.list", "directory list", err)
	}

	return &PersonPage{
		People:     people,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
	}, nil
}

// Update merges patch into the stored profile and re-embeds when interests, skills or
// bio changed. It returns ErrNoChange when the merge has no effect.
//
// The read-merge-write is not atomic; concurrent updates to one phone can lose a write.
func (s *PersonService) Update(ctx context.Context, phone string, patch Patch) (*repository.Person, Changes, error) {
	const op = "person.update"

	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, Changes{}, ErrMissingName
	}

	existing, err := s.Get(ctx, phone)
	if err != nil {
		return nil, Changes{}, err
	}

	merged, changes := MergeProfile(existing, patch)
	if !changes.Any() {
		return existing, changes, ErrNoChange
	}

	update := repository.PersonUpdate{UpdatedAt: s.now()}
	if changes.Name {
		update.Name = &merged.Name
	}
	if changes.Location {
		update.Location = &merged.Location
	}
	if changes.Interests {
		update.Interests = &merged.Interests
	}
	if changes.Skills {
		update.Skills = &merged.Skills
	}
	if changes.Bio {
		update.Bio = &merged.Bio
	}
	if changes.Semantic() {
		vec, err := s.embedProfile(ctx, merged)
		if err != nil {
			return nil, Changes{}, dependency(op, "embedding", err)
		}
		merged.VectorEmbedding = vec
		update.VectorEmbedding = &merged.VectorEmbedding
	}
	merged.UpdatedAt = update.UpdatedAt

	n, err := s.repo.UpdateByPhone(ctx, existing.PhoneNumber, update)
	if err != nil {
		return nil, Changes{}, dependency(op, "directory update", err)
	}
	if n == 0 {
		// Deleted between read and write.
		return nil, Changes{}, ErrPersonNotFound
	}

	s.logger.Info("person updated",
		"phone", existing.PhoneNumber,
		"fields", changes.Fields(),
		"reembedded", changes.Semantic())
	return merged, changes, nil
}

// RefreshEmbedding recomputes the stored vector from the current profile.
func (s *PersonService) RefreshEmbedding(ctx context.Context, phone string) error {
	const op = "person.refresh_embedding"

	p, err := s.Get(ctx, phone)
	if err != nil {
		return err
	}

	vec, err := s.embedProfile(ctx, p)
	if err != nil {
		return dependency(op, "embedding", err)
	}

	n, err := s.repo.UpdateByPhone(ctx, p.PhoneNumber, repository.PersonUpdate{
		VectorEmbedding: &vec,
		UpdatedAt:       s.now(),
	})
	if err != nil {
		return dependency(op, "directory update", err)
	}
	if n == 0 {
		return ErrPersonNotFound
	}
	return nil
}

// Phones returns every registered phone number in directory order.
func (s *PersonService) Phones(ctx context.Context) ([]string, error) {
	var phones []string
	for offset := 0; ; offset += MaxPerPage {
		people, total, err := s.repo.List(ctx, MaxPerPage, offset)
		if err != nil {
			return nil, dependency("person.phones", "directory list", err)
		}
		for _, p := range people {
			phones = append(phones, p.PhoneNumber)
		}
		if len(people) == 0 || offset+len(people) >= total {
			return phones, nil
		}
	}
}

// DeleteAll removes every person and returns how many were deleted.
func (s *PersonService) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, dependency("person.delete_all", "directory delete", err)
	}
	s.logger.Warn("deleted all persons", "count", n)
	return n, nil
}

// Ping checks the directory.
func (s *PersonService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *PersonService) embedProfile(ctx context.Context, p *repository.Person) ([]float32, error) {
	text := embedder.ProfileText(p.Interests, p.Skills, p.Bio)
	if text == "" {
		return []float32{}, nil
	}
	return s.embedder.Embed(ctx, text)
}
