// Package mongo stores the person directory in a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/knoguchi/peermatch/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "persons"

type personDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	PhoneNumber     string             `bson:"phoneNumber"`
	Name            string             `bson:"name"`
	Interests       []string           `bson:"interests"`
	Skills          []string           `bson:"skills"`
	Bio             string             `bson:"bio"`
	Location        string             `bson:"location"`
	VectorEmbedding []float32          `bson:"vectorEmbedding"`
	CreatedAt       time.Time          `bson:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt"`
}

func toDoc(p *repository.Person) personDoc {
	return personDoc{
		PhoneNumber:     p.PhoneNumber,
		Name:            p.Name,
		Interests:       nonNil(p.Interests),
		Skills:          nonNil(p.Skills),
		Bio:             p.Bio,
		Location:        p.Location,
		VectorEmbedding: nonNilVec(p.VectorEmbedding),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func (d personDoc) person() *repository.Person {
	return &repository.Person{
		PhoneNumber:     d.PhoneNumber,
		Name:            d.Name,
		Interests:       d.Interests,
		Skills:          d.Skills,
		Bio:             d.Bio,
		Location:        d.Location,
		VectorEmbedding: d.VectorEmbedding,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// PersonRepo implements repository.PersonRepository on MongoDB
type PersonRepo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New connects, pings and ensures the unique phone index.
func New(ctx context.Context, uri, database string) (*PersonRepo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phoneNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create phone index: %w", err)
	}

	return &PersonRepo{client: client, coll: coll}, nil
}

// FindByPhone retrieves a person by phone number
func (r *PersonRepo) FindByPhone(ctx context.Context, phone string) (*repository.Person, error) {
	var doc personDoc
	err := r.coll.FindOne(ctx, bson.M{"phoneNumber": phone}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return doc.person(), nil
}

// Insert creates a new person
func (r *PersonRepo) Insert(ctx context.Context, p *repository.Person) error {
	if _, err := r.coll.InsertOne(ctx, toDoc(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicatePhone
		}
		return fmt.Errorf("failed to create person: %w", err)
	}
	return nil
}

// UpdateByPhone applies a $set with only the provided fields and reports matched documents
func (r *PersonRepo) UpdateByPhone(ctx context.Context, phone string, u repository.PersonUpdate) (int64, error) {
	set := bson.M{}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Location != nil {
		set["location"] = *u.Location
	}
	if u.Bio != nil {
		set["bio"] = *u.Bio
	}
	if u.Interests != nil {
		set["interests"] = nonNil(*u.Interests)
	}
	if u.Skills != nil {
		set["skills"] = nonNil(*u.Skills)
	}
	if u.VectorEmbedding != nil {
		set["vectorEmbedding"] = nonNilVec(*u.VectorEmbedding)
	}
	if !u.UpdatedAt.IsZero() {
		set["updatedAt"] = u.UpdatedAt
	}
	if len(set) == 0 {
		return 0, nil
	}

	result, err := r.coll.UpdateOne(ctx, bson.M{"phoneNumber": phone}, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("failed to update person: %w", err)
	}
	return result.MatchedCount, nil
}

// ScanWithEmbedding returns people whose vector has at least one element
func (r *PersonRepo) ScanWithEmbedding(ctx context.Context) ([]*repository.Person, error) {
	filter := bson.M{"vectorEmbedding.0": bson.M{"$exists": true}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

// List retrieves persons with pagination
func (r *PersonRepo) List(ctx context.Context, limit, offset int) ([]*repository.Person, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count persons: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	people, err := r.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, err
	}
	return people, int(total), nil
}

func (r *PersonRepo) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*repository.Person, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find persons: %w", err)
	}
	defer cursor.Close(ctx)

	people := []*repository.Person{}
	for cursor.Next(ctx) {
		var doc personDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode person: %w", err)
		}
		people = append(people, doc.person())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persons: %w", err)
	}
	return people, nil
}

// DeleteAll removes every person
func (r *PersonRepo) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete persons: %w", err)
	}
	return result.DeletedCount, nil
}

// Ping checks server connectivity
func (r *PersonRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (r *PersonRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilVec(v []float32) []float32 {
	if v == nil {
		return []float32{}
	}
	return v
}

var _ repository.PersonRepository = (*PersonRepo)(nil)
