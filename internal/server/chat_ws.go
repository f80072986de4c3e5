package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/peermatch/internal/dialogue"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const chatIdleTimeout = 10 * time.Minute

// chatFrame is exchanged in both directions on the chat socket. Clients send {"text": ...};
// the server sends greeting, token, done and error frames.
type chatFrame struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// ChatHandler serves a text conversation with the agent over a WebSocket.
type ChatHandler struct {
	agent          *dialogue.Agent
	originPatterns []string
	logger         *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(agent *dialogue.Agent, originPatterns []string, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{agent: agent, originPatterns: originPatterns, logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	callID := "chat-" + uuid.NewString()
	defer func() {
		if err := h.agent.End(ctx, callID); err != nil {
			h.logger.Warn("failed to drop chat", "call_id", callID, "error", err)
		}
	}()

	greeting, err := h.agent.Start(ctx, callID)
	if err != nil {
		h.logger.Error("failed to start chat", "error", err)
		conn.Close(websocket.StatusInternalError, "failed to start conversation")
		return
	}
	if err := wsjson.Write(ctx, conn, chatFrame{Type: "greeting", Text: greeting}); err != nil {
		return
	}
	h.logger.Info("chat started", "call_id", callID)

	for {
		var in chatFrame
		readCtx, cancel := context.WithTimeout(ctx, chatIdleTimeout)
		err := wsjson.Read(readCtx, conn, &in)
		cancel()
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				h.logger.Debug("chat read ended", "call_id", callID, "error", err)
			}
			return
		}

		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}

		if err := h.turn(ctx, conn, callID, text); err != nil {
			if errors.Is(err, errClientGone) {
				return
			}
			h.logger.Error("chat turn failed", "call_id", callID, "error", err)
			if err := wsjson.Write(ctx, conn, chatFrame{Type: "error", Text: troubleReply}); err != nil {
				return
			}
		}
	}
}

var errClientGone = errors.New("client gone")

// turn streams one reply. Returning cancels ctx, which releases the agent's stream.
func (h *ChatHandler) turn(parent context.Context, conn *websocket.Conn, callID, text string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	chunks, err := h.agent.RespondStream(ctx, callID, text)
	if err != nil {
		return err
	}

	var sb strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return chunk.Error
		}
		if chunk.Token == "" {
			continue
		}
		sb.WriteString(chunk.Token)
		if err := wsjson.Write(ctx, conn, chatFrame{Type: "token", Text: chunk.Token}); err != nil {
			return errClientGone
		}
	}
	if err := wsjson.Write(ctx, conn, chatFrame{Type: "done", Text: strings.TrimSpace(sb.String())}); err != nil {
		return errClientGone
	}
	return nil
}
