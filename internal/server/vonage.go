package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/knoguchi/peermatch/internal/dialogue"
	"github.com/knoguchi/peermatch/internal/telephony"
	"github.com/knoguchi/peermatch/internal/tts"
)

const (
	didNotCatch   = "Sorry, I didn't catch that. Could you say it again?"
	troubleReply  = "Umm, I'm having a little trouble on my end. Give me a second and try again?"
	speechLang    = "en-US"
	audioMIMEType = "audio/mpeg"
)

// CallPlacer places outbound calls.
type CallPlacer interface {
	CreateCall(ctx context.Context, to, answerURL, eventURL string) (*telephony.CallResult, error)
}

// VonageConfig wires the voice webhooks.
type VonageConfig struct {
	Agent *dialogue.Agent
	// Clips is optional; without it replies are read by the provider's voice.
	Clips *tts.ClipCache
	// Calls is optional; without it make-call answers 503.
	Calls          CallPlacer
	PublicURL      string
	IntroAudioPath string
	Logger         *slog.Logger
}

// VonageHandler serves /api/vonage.
type VonageHandler struct {
	agent     *dialogue.Agent
	clips     *tts.ClipCache
	calls     CallPlacer
	publicURL string
	introPath string
	logger    *slog.Logger
}

// NewVonageHandler creates a VonageHandler.
func NewVonageHandler(cfg VonageConfig) *VonageHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VonageHandler{
		agent:     cfg.Agent,
		clips:     cfg.Clips,
		calls:     cfg.Calls,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		introPath: cfg.IntroAudioPath,
		logger:    logger,
	}
}

// Routes mounts the voice API. signed verifies provider webhooks.
func (h *VonageHandler) Routes(signed func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/webhooks/inbound", h.inbound)
	r.With(signed).Post("/webhooks/speech", h.speech)
	r.With(signed).Post("/webhooks/event", h.event)
	r.Get("/audio/{id}", h.audio)
	r.Get("/intro-audio", h.introAudio)
	r.Get("/make-call", h.makeCall)
	return r
}

func (h *VonageHandler) url(path string) string {
	return h.publicURL + "/api/vonage" + path
}

// CallbackURLs returns the answer and event webhook URLs for an outbound call.
func CallbackURLs(publicURL string) (answer, event string) {
	base := strings.TrimRight(publicURL, "/") + "/api/vonage"
	return base + "/webhooks/inbound", base + "/webhooks/event"
}

// inbound answers a call: greet, then listen.
func (h *VonageHandler) inbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	in := telephony.Inbound{
		UUID:             r.URL.Query().Get("uuid"),
		ConversationUUID: r.URL.Query().Get("conversation_uuid"),
		From:             r.URL.Query().Get("from"),
		To:               r.URL.Query().Get("to"),
	}
	callID := in.UUID
	if callID == "" {
		callID = in.ConversationUUID
	}
	h.logger.Info("inbound call", "call_id", callID, "from", in.From)

	greeting, err := h.agent.Start(ctx, callID)
	if err != nil {
		h.logger.Error("failed to start conversation", "call_id", callID, "error", err)
		greeting = dialogue.Greeting(h.agent.Name())
	}

	var ncco telephony.NCCO
	if h.introPath != "" {
		ncco = append(ncco, telephony.Stream(h.url("/intro-audio")))
	} else {
		ncco = append(ncco, h.say(ctx, greeting))
	}
	ncco = append(ncco, telephony.ListenForSpeech(h.url("/webhooks/speech"), speechLang))
	writeJSON(w, http.StatusOK, ncco)
}

// speech runs one dialogue turn for a recognized utterance.
func (h *VonageHandler) speech(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var ev telephony.SpeechEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	callID := ev.CallID()
	text := ev.Transcript()
	reply := didNotCatch
	if text != "" {
		res, err := h.agent.Respond(ctx, callID, text)
		if err != nil {
			h.logger.Error("dialogue turn failed", "call_id", callID, "error", err)
			reply = troubleReply
		} else {
			reply = res.Text
			if res.Match != nil {
				h.logger.Info("recommended match", "call_id", callID, "match", res.Match.PhoneNumber)
			}
		}
	}

	writeJSON(w, http.StatusOK, telephony.NCCO{
		h.say(ctx, reply),
		telephony.ListenForSpeech(h.url("/webhooks/speech"), speechLang),
	})
}

// say renders text as a cached clip when synthesis is available, else as talk.
func (h *VonageHandler) say(ctx context.Context, text string) telephony.Action {
	if h.clips == nil {
		return telephony.Talk(text)
	}
	id, err := h.clips.Speak(ctx, text)
	if err != nil {
		h.logger.Warn("speech synthesis failed, falling back to talk", "error", err)
		return telephony.Talk(text)
	}
	return telephony.Stream(h.url("/audio/" + id))
}

func (h *VonageHandler) event(w http.ResponseWriter, r *http.Request) {
	var ev telephony.CallEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	h.logger.Info("call event", "call_id", ev.UUID, "status", ev.Status, "direction", ev.Direction)

	if ev.Ended() && ev.UUID != "" {
		if err := h.agent.End(r.Context(), ev.UUID); err != nil {
			h.logger.Warn("failed to drop conversation", "call_id", ev.UUID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *VonageHandler) audio(w http.ResponseWriter, r *http.Request) {
	if h.clips == nil {
		http.NotFound(w, r)
		return
	}
	clip, ok := h.clips.Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", audioMIMEType)
	_, _ = w.Write(clip)
}

func (h *VonageHandler) introAudio(w http.ResponseWriter, r *http.Request) {
	if h.introPath == "" {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(h.introPath); err != nil {
		h.logger.Error("intro audio missing", "path", h.introPath, "error", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", audioMIMEType)
	http.ServeFile(w, r, h.introPath)
}

func (h *VonageHandler) makeCall(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to_number")
	if to == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing to_number parameter"})
		return
	}
	if h.calls == nil {
		writeFail(w, http.StatusServiceUnavailable, "Telephony is not configured")
		return
	}

	answer, event := CallbackURLs(h.publicURL)
	res, err := h.calls.CreateCall(r.Context(), to, answer, event)
	if err != nil {
		h.logger.Error("failed to create call", "to", to, "error", err)
		writeFail(w, http.StatusBadGateway, "Failed to initiate call")
		return
	}

	h.logger.Info("call initiated", "uuid", res.UUID, "to", to)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"uuid":    res.UUID,
		"message": "Call initiated successfully",
	})
}
