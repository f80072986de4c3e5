package dialogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/memory"
	"github.com/knoguchi/peermatch/internal/service"
)

// Matcher returns the best match for a free-text description.
type Matcher interface {
	BestMatch(ctx context.Context, query string) (*service.Match, error)
}

// Reply is the outcome of one turn.
type Reply struct {
	Text string
	// Match is set when the turn looked someone up and found them.
	Match *service.Match
	// Searched reports whether the model called getSimilarPeople.
	Searched bool
}

// Agent holds the conversation loop for all calls. Turns of one call are serialized.
type Agent struct {
	chat         llm.ChatModel
	matcher      Matcher
	store        memory.ConversationStore
	opts         llm.ChatOptions
	name         string
	historyLimit int
	logger       *slog.Logger

	locks sync.Map // callID -> *sync.Mutex
}

// Option configures an Agent.
type Option func(*Agent)

// WithName sets the agent's name used in the greeting and prompt.
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithChatOptions sets the sampling parameters.
func WithChatOptions(opts llm.ChatOptions) Option {
	return func(a *Agent) {
		a.opts = opts
	}
}

// WithHistoryLimit caps how many stored messages are sent per turn. 0 sends all.
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		a.historyLimit = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// NewAgent creates an Agent.
func NewAgent(chat llm.ChatModel, matcher Matcher, store memory.ConversationStore, opts ...Option) *Agent {
	a := &Agent{
		chat:    chat,
		matcher: matcher,
		store:   store,
		name:    "Boardy",
		opts: llm.ChatOptions{
			Temperature: 1.0,
			MaxTokens:   1024,
			TopP:        1.0,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// Start resets the transcript of callID and records the greeting, which it returns.
func (a *Agent) Start(ctx context.Context, callID string) (string, error) {
	unlock := a.lock(callID)
	defer unlock()

	if err := a.store.Clear(ctx, callID); err != nil {
		return "", fmt.Errorf("failed to reset conversation: %w", err)
	}
	greeting := Greeting(a.name)
	if err := a.store.Append(ctx, callID, memory.Message{Role: llm.RoleAssistant, Content: greeting}); err != nil {
		return "", fmt.Errorf("failed to store greeting: %w", err)
	}
	return greeting, nil
}

// Respond runs one turn for the caller's utterance and returns the agent's reply.
func (a *Agent) Respond(ctx context.Context, callID, text string) (*Reply, error) {
	unlock := a.lock(callID)
	defer unlock()

	messages, err := a.transcript(ctx, callID, text)
	if err != nil {
		return nil, err
	}

	resp, err := a.chat.Chat(ctx, messages, []llm.Tool{SimilarPeopleTool}, a.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	reply := &Reply{Text: resp.Message.Content}
	if len(resp.Message.ToolCalls) > 0 {
		messages, reply.Match, err = a.runTools(ctx, messages, resp.Message)
		if err != nil {
			return nil, err
		}
		reply.Searched = true

		final, err := a.chat.Chat(ctx, messages, nil, a.opts)
		if err != nil {
			return nil, fmt.Errorf("failed to generate reply after lookup: %w", err)
		}
		reply.Text = final.Message.Content
	}
	reply.Text = strings.TrimSpace(reply.Text)

	if err := a.record(ctx, callID, text, reply.Text); err != nil {
		return nil, err
	}
	return reply, nil
}

// RespondStream is Respond with the reply delivered as fragments. The first model call
// decides whether to search; only the reply that follows a search is streamed token by
// token, a direct reply arrives as one fragment. The transcript is written once the
// stream completes without error.
func (a *Agent) RespondStream(ctx context.Context, callID, text string) (<-chan llm.StreamChunk, error) {
	unlock := a.lock(callID)

	messages, err := a.transcript(ctx, callID, text)
	if err != nil {
		unlock()
		return nil, err
	}

	resp, err := a.chat.Chat(ctx, messages, []llm.Tool{SimilarPeopleTool}, a.opts)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	var upstream <-chan llm.StreamChunk
	if len(resp.Message.ToolCalls) > 0 {
		messages, _, err = a.runTools(ctx, messages, resp.Message)
		if err != nil {
			unlock()
			return nil, err
		}
		upstream, err = a.chat.ChatStream(ctx, messages, a.opts)
		if err != nil {
			unlock()
			return nil, fmt.Errorf("failed to stream reply after lookup: %w", err)
		}
	} else {
		single := make(chan llm.StreamChunk, 2)
		single <- llm.StreamChunk{Token: resp.Message.Content}
		single <- llm.StreamChunk{Done: true}
		close(single)
		upstream = single
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer unlock()

		var sb strings.Builder
		for chunk := range upstream {
			sb.WriteString(chunk.Token)
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Error != nil {
				return
			}
			if chunk.Done {
				break
			}
		}
		if err := a.record(ctx, callID, text, strings.TrimSpace(sb.String())); err != nil {
			a.logger.Error("failed to store streamed turn", "call_id", callID, "error", err)
		}
	}()
	return out, nil
}

// End drops the transcript of callID.
func (a *Agent) End(ctx context.Context, callID string) error {
	unlock := a.lock(callID)
	err := a.store.Clear(ctx, callID)
	unlock()
	a.locks.Delete(callID)
	return err
}

// History returns the stored transcript of callID.
func (a *Agent) History(ctx context.Context, callID string) ([]memory.Message, error) {
	return a.store.History(ctx, callID)
}

func (a *Agent) lock(callID string) func() {
	v, _ := a.locks.LoadOrStore(callID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// transcript builds the model input: system prompt, stored history, then the new utterance.
func (a *Agent) transcript(ctx context.Context, callID, text string) ([]llm.ChatMessage, error) {
	history, err := a.store.Recent(ctx, callID, a.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: SystemPrompt(a.name)})
	if len(history) == 0 {
		messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: Greeting(a.name)})
	}
	for _, m := range history {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: text})
	return messages, nil
}

// runTools answers every tool call in msg and returns the extended transcript.
func (a *Agent) runTools(ctx context.Context, messages []llm.ChatMessage, msg llm.ChatMessage) ([]llm.ChatMessage, *service.Match, error) {
	messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: msg.Content, ToolCalls: msg.ToolCalls})

	var found *service.Match
	for _, call := range msg.ToolCalls {
		var result string
		switch call.Name {
		case ToolSimilarPeople:
			m, err := a.lookup(ctx, call.Arguments)
			if err != nil {
				return nil, nil, err
			}
			if m == nil {
				result = NotFoundReply
			} else {
				result = MatchReply(m)
				found = m
			}
		default:
			a.logger.Warn("model called unknown tool", "tool", call.Name)
			result = fmt.Sprintf("Unknown tool %q", call.Name)
		}
		messages = append(messages, llm.ChatMessage{Role: llm.RoleTool, Content: result, ToolCallID: call.ID})
	}
	return messages, found, nil
}

// lookup returns nil without error when there is nothing to report to the caller.
func (a *Agent) lookup(ctx context.Context, rawArgs string) (*service.Match, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		a.logger.Warn("invalid tool arguments", "arguments", rawArgs, "error", err)
		return nil, nil
	}

	m, err := a.matcher.BestMatch(ctx, args.Query)
	switch {
	case err == nil:
		a.logger.Info("matched caller", "query", args.Query, "match", m.PhoneNumber, "score", m.Score)
		return m, nil
	case errors.Is(err, service.ErrNoMatch), errors.Is(err, service.ErrInvalidQuery):
		a.logger.Info("no match for caller", "query", args.Query)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to find similar people: %w", err)
	}
}

func (a *Agent) record(ctx context.Context, callID, user, assistant string) error {
	err := a.store.Append(ctx, callID,
		memory.Message{Role: llm.RoleUser, Content: user},
		memory.Message{Role: llm.RoleAssistant, Content: assistant})
	if err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}
	return nil
}
