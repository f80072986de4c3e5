package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/knoguchi/peermatch/internal/dialogue"
	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func dialChat(t *testing.T, chat llm.ChatModel, m dialogue.Matcher) *websocket.Conn {
	t.Helper()
	agent, store := newTestAgent(chat, m)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(NewRouter(HTTPServerConfig{Chat: NewChatHandler(agent, nil, discardLogger())}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) chatFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var f chatFrame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestChatGreetingAndDirectReply(t *testing.T) {
	conn := dialChat(t, &scriptedChat{responses: []*llm.ChatResponse{reply("Hi Ada, what are you working on?")}}, stubMatcher{})

	greeting := readFrame(t, conn)
	assert.Equal(t, "greeting", greeting.Type)
	assert.Equal(t, dialogue.Greeting("Boardy"), greeting.Text)

	require.NoError(t, wsjson.Write(context.Background(), conn, chatFrame{Text: "I'm Ada"}))
	tok := readFrame(t, conn)
	assert.Equal(t, "token", tok.Type)
	done := readFrame(t, conn)
	assert.Equal(t, "done", done.Type)
	assert.Equal(t, "Hi Ada, what are you working on?", done.Text)
}

func TestChatStreamsReplyAfterLookup(t *testing.T) {
	chat := &scriptedChat{
		responses: []*llm.ChatResponse{{Message: llm.ChatMessage{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: dialogue.ToolSimilarPeople, Arguments: `{"query":"go developer"}`}},
		}}},
		stream: []string{"You should ", "meet Grace."},
	}
	m := stubMatcher{match: &service.Match{PhoneNumber: "+15551234568", Name: "Grace", Score: 2}}
	conn := dialChat(t, chat, m)
	readFrame(t, conn)

	require.NoError(t, wsjson.Write(context.Background(), conn, chatFrame{Text: "Find me a Go developer"}))
	var tokens []string
	for {
		f := readFrame(t, conn)
		if f.Type == "done" {
			assert.Equal(t, "You should meet Grace.", f.Text)
			break
		}
		require.Equal(t, "token", f.Type)
		tokens = append(tokens, f.Text)
	}
	assert.Equal(t, []string{"You should ", "meet Grace."}, tokens)
}

func TestChatReportsTurnFailure(t *testing.T) {
	conn := dialChat(t, &scriptedChat{}, stubMatcher{})
	readFrame(t, conn)

	require.NoError(t, wsjson.Write(context.Background(), conn, chatFrame{Text: "hello"}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, troubleReply, f.Text)
}
