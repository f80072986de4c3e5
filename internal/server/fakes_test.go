package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knoguchi/peermatch/internal/dialogue"
	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/memory"
	repomem "github.com/knoguchi/peermatch/internal/repository/memory"
	"github.com/knoguchi/peermatch/internal/service"
	"github.com/stretchr/testify/require"
)

var topics = []string{"go", "python", "music", "climbing", "cooking", "rust", "kubernetes", "jazz"}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// topicEmbedder counts topic words; text with no topic embeds to an empty vector.
type topicEmbedder struct{}

func (topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(topics))
	hit := false
	for _, w := range words(text) {
		for i, t := range topics {
			if w == t {
				vec[i]++
				hit = true
			}
		}
	}
	if !hit {
		return []float32{}, nil
	}
	return vec, nil
}

func (e topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (topicEmbedder) Dimension() int    { return len(topics) }
func (topicEmbedder) ModelName() string { return "topics" }

// overlapReranker scores a passage by the number of query words it contains.
type overlapReranker struct{}

func (overlapReranker) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	q := words(query)
	scores := make([]float32, len(passages))
	for i, p := range passages {
		in := map[string]bool{}
		for _, w := range words(p) {
			in[w] = true
		}
		for _, w := range q {
			if in[w] {
				scores[i]++
			}
		}
	}
	return scores, nil
}

func (overlapReranker) ModelName() string { return "overlap" }

// failingPinger reports the directory as down.
type failingPinger struct{ err error }

func (p failingPinger) Ping(ctx context.Context) error { return p.err }

var errDown = errors.New("connection refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture is a fully wired in-memory person API.
type fixture struct {
	repo    *repomem.PersonRepo
	people  *service.PersonService
	matcher *service.MatchService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repomem.NewPersonRepo()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fixture{
		repo:    repo,
		people:  service.NewPersonService(repo, topicEmbedder{}, service.WithClock(func() time.Time { return fixed })),
		matcher: service.NewMatchService(repo, topicEmbedder{}, overlapReranker{}, nil),
	}
}

func (f *fixture) add(t *testing.T, phone, name string, interests, skills []string, bio string) {
	t.Helper()
	_, err := f.people.Create(context.Background(), service.CreatePersonInput{
		PhoneNumber: phone,
		Name:        name,
		Interests:   interests,
		Skills:      skills,
		Bio:         bio,
	})
	require.NoError(t, err)
}

// scriptedChat answers with queued responses and streams a fixed reply.
type scriptedChat struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	stream    []string
	err       error
}

func (c *scriptedChat) Chat(ctx context.Context, messages []llm.ChatMessage, tools []llm.Tool, opts llm.ChatOptions) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func (c *scriptedChat) ChatStream(ctx context.Context, messages []llm.ChatMessage, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(c.stream)+1)
	for _, tok := range c.stream {
		ch <- llm.StreamChunk{Token: tok}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func reply(s string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: s}}
}

func newTestAgent(chat llm.ChatModel, m dialogue.Matcher) (*dialogue.Agent, *memory.Store) {
	store := memory.NewStore(time.Hour)
	return dialogue.NewAgent(chat, m, store), store
}

// nopSynth returns fixed audio.
type nopSynth struct {
	calls int
	err   error
}

func (s *nopSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("ID3" + text), nil
}
