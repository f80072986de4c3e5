// Package dialogue runs the voice agent: it collects a caller's profile through
// conversation and, when the model asks for it, looks up the most similar registered person.
package dialogue

import (
	"fmt"
	"strings"

	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/service"
)

// ToolSimilarPeople is the function name the model calls to request a match.
const ToolSimilarPeople = "getSimilarPeople"

// NotFoundReply is the tool result when no similar person exists.
const NotFoundReply = "I couldn't find anyone similar at the moment, but we can try again later!"

const foundPrefix = "I found someone you might like to meet! "

// SimilarPeopleTool describes getSimilarPeople to the model.
var SimilarPeopleTool = llm.Tool{
	Name:        ToolSimilarPeople,
	Description: "Find similar people based on the user's interests, skills, and background",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "A description of the person including their interests, skills, and background",
			},
		},
		"required": []string{"query"},
	},
}

// Greeting is the agent's opening line.
func Greeting(agentName string) string {
	return fmt.Sprintf("Hey I'm %s, it's nice to meet you. Who am I speaking with?", agentName)
}

// SystemPrompt returns the agent instructions.
func SystemPrompt(agentName string) string {
	return fmt.Sprintf(`You are %[1]s, a voice assistant who helps people meet like-minded peers.
Callers sometimes mishear or misspell your name; ignore it.

Get to know the caller the way two people chat at a bar, not as a questionnaire. Ask for
their name first. Then, through conversation, learn:
- where they live (for example: Miami FL, Raleigh NC)
- their interests (for example: photography, blockchain, patient advocacy)
- what they are good at (for example: web dev, color theory, food safety)
- a short bio (for example: experienced nurse focused on emergency response)

Once you know enough, call %[2]s with a description of the caller, and tell them you have
someone in mind while you look. Share the result in your own words.

This is a phone call. Be warm and a little witty, use casual phrases, and keep every reply
to about one sentence.`, agentName, ToolSimilarPeople)
}

// FormatMatch renders a match as the sentence the agent relays to the caller.
func FormatMatch(m *service.Match) string {
	s := fmt.Sprintf("%s is from %s and is interested in %s. They're skilled in %s. %s",
		m.Name, m.Location, m.Interests, m.Skills, m.Bio)
	return strings.TrimSpace(s)
}

// MatchReply is the tool result for a found match.
func MatchReply(m *service.Match) string {
	return foundPrefix + FormatMatch(m)
}
