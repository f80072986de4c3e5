package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/pgvector/pgvector-go"
)

const uniqueViolation = "23505"

const personColumns = `phone_number, name, interests, skills, bio, location, vector_embedding, created_at, updated_at`

// PersonRepo implements repository.PersonRepository
type PersonRepo struct {
	db *DB
}

// NewPersonRepo creates a new person repository
func NewPersonRepo(db *DB) *PersonRepo {
	return &PersonRepo{db: db}
}

// FindByPhone retrieves a person by phone number
func (r *PersonRepo) FindByPhone(ctx context.Context, phone string) (*repository.Person, error) {
	query := `SELECT ` + personColumns + ` FROM persons WHERE phone_number = $1`

	p, err := scanPerson(r.db.Pool.QueryRow(ctx, query, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return p, nil
}

// Insert creates a new person
func (r *PersonRepo) Insert(ctx context.Context, p *repository.Person) error {
	query := `
		INSERT INTO persons (id, ` + personColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		uuid.New(), p.PhoneNumber, p.Name, nonNil(p.Interests), nonNil(p.Skills),
		p.Bio, p.Location, vectorArg(p.VectorEmbedding), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicatePhone
		}
		return fmt.Errorf("failed to create person: %w", err)
	}
	return nil
}

// UpdateByPhone writes only the fields set on update
func (r *PersonRepo) UpdateByPhone(ctx context.Context, phone string, u repository.PersonUpdate) (int64, error) {
	var sets []string
	args := []any{phone}
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Location != nil {
		add("location", *u.Location)
	}
	if u.Bio != nil {
		add("bio", *u.Bio)
	}
	if u.Interests != nil {
		add("interests", nonNil(*u.Interests))
	}
	if u.Skills != nil {
		add("skills", nonNil(*u.Skills))
	}
	if u.VectorEmbedding != nil {
		add("vector_embedding", vectorArg(*u.VectorEmbedding))
	}
	if !u.UpdatedAt.IsZero() {
		add("updated_at", u.UpdatedAt)
	}
	if len(sets) == 0 {
		return 0, nil
	}

	query := `UPDATE persons SET ` + strings.Join(sets, ", ") + ` WHERE phone_number = $1`
	result, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update person: %w", err)
	}
	return result.RowsAffected(), nil
}

// ScanWithEmbedding returns every person that has a vector, oldest first
func (r *PersonRepo) ScanWithEmbedding(ctx context.Context) ([]*repository.Person, error) {
	query := `
		SELECT ` + personColumns + `
		FROM persons
		WHERE vector_embedding IS NOT NULL
		ORDER BY created_at, id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan persons: %w", err)
	}
	defer rows.Close()

	return collectPersons(rows)
}

// List retrieves persons with pagination
func (r *PersonRepo) List(ctx context.Context, limit, offset int) ([]*repository.Person, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM persons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count persons: %w", err)
	}

	query := `
		SELECT ` + personColumns + `
		FROM persons
		ORDER BY created_at, id
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list persons: %w", err)
	}
	defer rows.Close()

	people, err := collectPersons(rows)
	if err != nil {
		return nil, 0, err
	}
	return people, total, nil
}

// DeleteAll removes every person
func (r *PersonRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM persons`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete persons: %w", err)
	}
	return result.RowsAffected(), nil
}

// Ping checks database connectivity
func (r *PersonRepo) Ping(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// Close closes the underlying pool
func (r *PersonRepo) Close() error {
	r.db.Close()
	return nil
}

func collectPersons(rows pgx.Rows) ([]*repository.Person, error) {
	people := []*repository.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persons: %w", err)
	}
	return people, nil
}

func scanPerson(row pgx.Row) (*repository.Person, error) {
	var p repository.Person
	var vec *pgvector.Vector

	err := row.Scan(&p.PhoneNumber, &p.Name, &p.Interests, &p.Skills,
		&p.Bio, &p.Location, &vec, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if vec != nil {
		p.VectorEmbedding = vec.Slice()
	}
	return &p, nil
}

// vectorArg maps an empty embedding to SQL NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ repository.PersonRepository = (*PersonRepo)(nil)
