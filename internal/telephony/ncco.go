// Package telephony speaks the Vonage Voice API: call control objects (NCCOs) returned
// from answer webhooks, webhook payloads, and outbound call creation.
package telephony

// NCCO is the ordered list of actions Vonage executes on a call.
type NCCO []Action

// Action is one NCCO step. Only the fields of the chosen action are set.
type Action struct {
	Action string `json:"action"`

	// stream
	StreamURL []string `json:"streamUrl,omitempty"`
	Loop      *int     `json:"loop,omitempty"`

	// talk
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`

	// stream, talk
	BargeIn bool `json:"bargeIn,omitempty"`

	// input
	Type        []string        `json:"type,omitempty"`
	Speech      *SpeechSettings `json:"speech,omitempty"`
	EventURL    []string        `json:"eventUrl,omitempty"`
	EventMethod string          `json:"eventMethod,omitempty"`
}

// SpeechSettings configure speech recognition for an input action.
type SpeechSettings struct {
	Language     string   `json:"language,omitempty"`
	EndOnSilence float64  `json:"endOnSilence,omitempty"`
	StartTimeout int      `json:"startTimeout,omitempty"`
	MaxDuration  int      `json:"maxDuration,omitempty"`
	Context      []string `json:"context,omitempty"`
}

// Stream plays audio from url. The caller can interrupt it by speaking.
func Stream(url string) Action {
	return Action{Action: "stream", StreamURL: []string{url}, BargeIn: true}
}

// Talk reads text aloud with the provider's voice.
func Talk(text string) Action {
	return Action{Action: "talk", Text: text, BargeIn: true}
}

// ListenForSpeech records the caller's next utterance and posts the transcript to eventURL.
func ListenForSpeech(eventURL, language string) Action {
	if language == "" {
		language = "en-US"
	}
	return Action{
		Action: "input",
		Type:   []string{"speech"},
		Speech: &SpeechSettings{
			Language:     language,
			EndOnSilence: 1.2,
			StartTimeout: 10,
			MaxDuration:  60,
		},
		EventURL:    []string{eventURL},
		EventMethod: "POST",
	}
}
