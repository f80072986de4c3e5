// Package qdrant keeps the person directory in a Qdrant collection, one point per phone number.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/qdrant/go-client/qdrant"
)

const profileVectorName = "profile"

// Payload keys
const (
	keyPhone     = "phone_number"
	keyName      = "name"
	keyInterests = "interests"
	keySkills    = "skills"
	keyBio       = "bio"
	keyLocation  = "location"
	keyEmbedded  = "has_embedding"
	keyCreated   = "created_at"
	keyUpdated   = "updated_at"
)

// phoneNamespace derives stable point IDs from phone numbers.
var phoneNamespace = uuid.MustParse("6f1c8f43-0b5e-4b43-9a3e-3c1f2f4d8a10")

// PersonRepo implements repository.PersonRepository using Qdrant
type PersonRepo struct {
	client     *qdrant.Client
	collection string
	dimension  int

	// Qdrant has no unique constraints; writes are serialized so the existence check holds.
	mu sync.Mutex
}

// New creates a client and ensures the collection exists.
// url should be in format "host:port" (e.g., "localhost:6334")
func New(ctx context.Context, url, apiKey, collection string, dimension int) (*PersonRepo, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	r := &PersonRepo{client: client, collection: collection, dimension: dimension}
	if err := r.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *PersonRepo) ensureCollection(ctx context.Context) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			profileVectorName: {
				Size:     uint64(r.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func pointID(phone string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(phoneNamespace, []byte(phone)).String())
}

// FindByPhone retrieves a person by phone number
func (r *PersonRepo) FindByPhone(ctx context.Context, phone string) (*repository.Person, error) {
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.collection,
		Ids:            []*qdrant.PointId{pointID(phone)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	if len(points) == 0 {
		return nil, repository.ErrNotFound
	}
	return fromPoint(points[0].GetPayload(), points[0].GetVectors())
}

// Insert creates a new person
func (r *PersonRepo) Insert(ctx context.Context, p *repository.Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.FindByPhone(ctx, p.PhoneNumber); err == nil {
		return repository.ErrDuplicatePhone
	} else if err != repository.ErrNotFound {
		return err
	}
	return r.upsert(ctx, p)
}

// UpdateByPhone reads the point, applies the update and writes it back
func (r *PersonRepo) UpdateByPhone(ctx context.Context, phone string, u repository.PersonUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.FindByPhone(ctx, phone)
	if err == repository.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	u.Apply(p)
	if err := r.upsert(ctx, p); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r *PersonRepo) upsert(ctx context.Context, p *repository.Person) error {
	payload, err := toPayload(p)
	if err != nil {
		return err
	}

	point := &qdrant.PointStruct{
		Id:      pointID(p.PhoneNumber),
		Payload: payload,
	}
	vectors := map[string]*qdrant.Vector{}
	if p.HasEmbedding() {
		vectors[profileVectorName] = &qdrant.Vector{Data: p.VectorEmbedding}
	}
	point.Vectors = &qdrant.Vectors{
		VectorsOptions: &qdrant.Vectors_Vectors{
			Vectors: &qdrant.NamedVectors{Vectors: vectors},
		},
	}

	_, err = r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert person: %w", err)
	}
	return nil
}

// ScanWithEmbedding returns every person that has a vector, oldest first
func (r *PersonRepo) ScanWithEmbedding(ctx context.Context) ([]*repository.Person, error) {
	return r.scroll(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchBool(keyEmbedded, true)},
	})
}

// List retrieves persons with pagination
func (r *PersonRepo) List(ctx context.Context, limit, offset int) ([]*repository.Person, int, error) {
	people, err := r.scroll(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	total := len(people)
	if offset >= total {
		return []*repository.Person{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return people[offset:end], total, nil
}

// scroll reads all matching points in one request sized by an exact count.
func (r *PersonRepo) scroll(ctx context.Context, filter *qdrant.Filter) ([]*repository.Person, error) {
	count, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count persons: %w", err)
	}
	if count == 0 {
		return []*repository.Person{}, nil
	}

	points, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: r.collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint32(count)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll persons: %w", err)
	}

	people := make([]*repository.Person, 0, len(points))
	for _, point := range points {
		p, err := fromPoint(point.GetPayload(), point.GetVectors())
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	sortByCreation(people)
	return people, nil
}

// DeleteAll drops and recreates the collection
func (r *PersonRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count persons: %w", err)
	}
	if err := r.client.DeleteCollection(ctx, r.collection); err != nil {
		return 0, fmt.Errorf("failed to delete collection: %w", err)
	}
	if err := r.ensureCollection(ctx); err != nil {
		return 0, err
	}
	return int64(count), nil
}

// Ping checks the server is reachable
func (r *PersonRepo) Ping(ctx context.Context) error {
	_, err := r.client.HealthCheck(ctx)
	return err
}

// Close closes the Qdrant client connection
func (r *PersonRepo) Close() error {
	return r.client.Close()
}

func toPayload(p *repository.Person) (map[string]*qdrant.Value, error) {
	interests, err := json.Marshal(nonNil(p.Interests))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal interests: %w", err)
	}
	skills, err := json.Marshal(nonNil(p.Skills))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal skills: %w", err)
	}

	return map[string]*qdrant.Value{
		keyPhone:     qdrant.NewValueString(p.PhoneNumber),
		keyName:      qdrant.NewValueString(p.Name),
		keyInterests: qdrant.NewValueString(string(interests)),
		keySkills:    qdrant.NewValueString(string(skills)),
		keyBio:       qdrant.NewValueString(p.Bio),
		keyLocation:  qdrant.NewValueString(p.Location),
		keyEmbedded:  qdrant.NewValueBool(p.HasEmbedding()),
		keyCreated:   qdrant.NewValueInt(p.CreatedAt.UnixNano()),
		keyUpdated:   qdrant.NewValueInt(p.UpdatedAt.UnixNano()),
	}, nil
}

func fromPoint(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*repository.Person, error) {
	p := &repository.Person{
		PhoneNumber: payload[keyPhone].GetStringValue(),
		Name:        payload[keyName].GetStringValue(),
		Bio:         payload[keyBio].GetStringValue(),
		Location:    payload[keyLocation].GetStringValue(),
		CreatedAt:   time.Unix(0, payload[keyCreated].GetIntegerValue()).UTC(),
		UpdatedAt:   time.Unix(0, payload[keyUpdated].GetIntegerValue()).UTC(),
	}
	if err := json.Unmarshal([]byte(payload[keyInterests].GetStringValue()), &p.Interests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interests: %w", err)
	}
	if err := json.Unmarshal([]byte(payload[keySkills].GetStringValue()), &p.Skills); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skills: %w", err)
	}
	if v, ok := vectors.GetVectors().GetVectors()[profileVectorName]; ok {
		p.VectorEmbedding = v.GetData()
	}
	return p, nil
}

func sortByCreation(people []*repository.Person) {
	sort.SliceStable(people, func(i, j int) bool {
		if !people[i].CreatedAt.Equal(people[j].CreatedAt) {
			return people[i].CreatedAt.Before(people[j].CreatedAt)
		}
		return people[i].PhoneNumber < people[j].PhoneNumber
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ repository.PersonRepository = (*PersonRepo)(nil)
