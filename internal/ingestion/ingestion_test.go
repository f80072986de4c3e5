package ingestion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/knoguchi/peermatch/internal/repository"
	"github.com/knoguchi/peermatch/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transient = &service.Error{Kind: service.KindDependency, Message: "embedding failed"}

// fakeDirectory records calls and fails the first failures[phone] attempts with err.
type fakeDirectory struct {
	mu       sync.Mutex
	created  map[string]service.CreatePersonInput
	phones   []string
	refresh  map[string]int
	failures map[string]int
	err      error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		created:  map[string]service.CreatePersonInput{},
		refresh:  map[string]int{},
		failures: map[string]int{},
	}
}

func (d *fakeDirectory) fail(phone string) error {
	if d.failures[phone] > 0 {
		d.failures[phone]--
		return d.err
	}
	return nil
}

func (d *fakeDirectory) Create(ctx context.Context, in service.CreatePersonInput) (*repository.Person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(in.PhoneNumber); err != nil {
		return nil, err
	}
	if _, ok := d.created[in.PhoneNumber]; ok {
		return nil, service.ErrPhoneExists
	}
	d.created[in.PhoneNumber] = in
	return &repository.Person{PhoneNumber: in.PhoneNumber, Name: in.Name}, nil
}

func (d *fakeDirectory) Phones(ctx context.Context) ([]string, error) {
	return d.phones, nil
}

func (d *fakeDirectory) RefreshEmbedding(ctx context.Context, phone string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if phone == "+15550000404" {
		return service.ErrPersonNotFound
	}
	if err := d.fail(phone); err != nil {
		return err
	}
	d.refresh[phone]++
	return nil
}

var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestDefaultPools(t *testing.T) {
	pools := DefaultPools()
	assert.NotEmpty(t, pools.FirstNames)
	assert.NotEmpty(t, pools.Professions)
	assert.Equal(t, "Software Developer", pools.Programmer.Name)
}

func TestParsePoolsRejectsThinPools(t *testing.T) {
	_, err := ParsePools([]byte("first_names: [Ada]\nlast_names: [Lovelace]\n"))
	assert.Error(t, err)

	_, err = ParsePools([]byte("first_names: [Ada"))
	assert.Error(t, err)
}

func TestGeneratorProfiles(t *testing.T) {
	g := NewGenerator(DefaultPools(), 42)
	people := g.Sample(10, 10)
	require.Len(t, people, 20)

	seen := map[string]bool{}
	for i, p := range people {
		assert.True(t, service.ValidPhone(p.PhoneNumber), p.PhoneNumber)
		assert.False(t, seen[p.PhoneNumber], "duplicate phone %s", p.PhoneNumber)
		seen[p.PhoneNumber] = true

		assert.Contains(t, p.Name, " ")
		assert.GreaterOrEqual(t, len(p.Skills), 3)
		assert.GreaterOrEqual(t, len(p.Interests), 2)
		assert.NotEmpty(t, p.Location)
		if i < 10 {
			assert.Contains(t, p.Bio, "Software developer passionate about")
			assert.LessOrEqual(t, len(p.Skills), 6)
		} else {
			assert.Contains(t, p.Bio, "Experienced ")
		}
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(DefaultPools(), 7).Sample(3, 3)
	b := NewGenerator(DefaultPools(), 7).Sample(3, 3)
	assert.Equal(t, a, b)
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()

	var calls int
	err := fastRetry.Do(ctx, func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = fastRetry.Do(ctx, func() error {
		calls++
		return service.ErrInvalidPhone
	})
	assert.ErrorIs(t, err, service.ErrInvalidPhone)
	assert.Equal(t, 1, calls, "validation errors are permanent")

	calls = 0
	err = fastRetry.Do(ctx, func() error {
		calls++
		return transient
	})
	assert.Equal(t, transient, err)
	assert.Equal(t, 3, calls)

	assert.ErrorIs(t, RetryPolicy{}.Do(ctx, func() error { return nil }), ErrInvalidMaxAttempts)
}

func TestRetryDelayIsCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(3))
	assert.Equal(t, time.Second, p.delay(8))
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastRetry.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeed(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = transient
	dir.failures["+15550000002"] = 1
	dir.failures["+15550000003"] = 10

	var last atomic.Value
	p, err := NewPipeline(dir, WithPoolSize(3), WithRetryPolicy(fastRetry), WithProgress(func(pr Progress) { last.Store(pr) }))
	require.NoError(t, err)
	defer p.Release()

	inputs := []service.CreatePersonInput{
		{PhoneNumber: "+15550000001", Name: "A"},
		{PhoneNumber: "+15550000002", Name: "B"},
		{PhoneNumber: "+15550000003", Name: "C"},
		{PhoneNumber: "+15550000001", Name: "A again"},
	}
	report, err := p.Seed(context.Background(), inputs)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "+15550000003", report.Failures[0].Phone)

	pr := last.Load().(Progress)
	assert.Equal(t, 4, pr.Done)
	assert.Equal(t, 1, pr.Failed)
}

func TestReembed(t *testing.T) {
	dir := newFakeDirectory()
	dir.phones = []string{"+15550000001", "+15550000002", "+15550000404"}
	dir.err = transient
	dir.failures["+15550000002"] = 2

	p, err := NewPipeline(dir, WithPoolSize(2), WithRetryPolicy(fastRetry))
	require.NoError(t, err)
	defer p.Release()

	report, err := p.Reembed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, report.Failures)
	assert.Equal(t, map[string]int{"+15550000001": 1, "+15550000002": 1}, dir.refresh)
}

func TestSeedCanceled(t *testing.T) {
	p, err := NewPipeline(newFakeDirectory(), WithRetryPolicy(fastRetry))
	require.NoError(t, err)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Seed(ctx, []service.CreatePersonInput{{PhoneNumber: "+15550000001", Name: "A"}})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(nil)
	assert.ErrorIs(t, err, ErrDirectoryRequired)

	_, err = NewPipeline(newFakeDirectory(), WithRetryPolicy(RetryPolicy{}))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}
