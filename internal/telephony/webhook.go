package telephony

import "strings"

// SpeechResult is one recognition hypothesis.
type SpeechResult struct {
	Text       string `json:"text"`
	Confidence string `json:"confidence"`
}

// SpeechEvent is posted to an input action's eventUrl.
type SpeechEvent struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Timestamp        string `json:"timestamp"`
	Speech           struct {
		TimeoutReason string         `json:"timeout_reason"`
		Error         string         `json:"error"`
		Results       []SpeechResult `json:"results"`
	} `json:"speech"`
}

// Transcript returns the top hypothesis, or "" when the caller said nothing.
func (e *SpeechEvent) Transcript() string {
	if len(e.Speech.Results) == 0 {
		return ""
	}
	return strings.TrimSpace(e.Speech.Results[0].Text)
}

// CallID identifies the conversation, preferring the leg's uuid.
func (e *SpeechEvent) CallID() string {
	if e.UUID != "" {
		return e.UUID
	}
	return e.ConversationUUID
}

// CallEvent is a call status update posted to the application's event URL.
type CallEvent struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
	From             string `json:"from"`
	To               string `json:"to"`
	Timestamp        string `json:"timestamp"`
}

var terminalStatuses = map[string]bool{
	"completed":    true,
	"failed":       true,
	"rejected":     true,
	"busy":         true,
	"cancelled":    true,
	"timeout":      true,
	"unanswered":   true,
	"disconnected": true,
}

// Ended reports whether the event closes the call.
func (e *CallEvent) Ended() bool {
	return terminalStatuses[e.Status]
}

// Inbound holds the query parameters of an answer webhook.
type Inbound struct {
	UUID             string
	ConversationUUID string
	From             string
	To               string
}
