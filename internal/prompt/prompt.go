// Package prompt renders chat history into a single contextual prompt for
// the Mama Akinyi persona.
package prompt

import (
	"fmt"
	"strings"

	"github.com/lalmba/akinyi-chat/internal/store"
)

// PersonaName labels assistant turns in the transcript.
const PersonaName = "Mama Akinyi"

// FallbackName labels user turns when no display name is known.
const FallbackName = "Mwanafunzi"

const systemContext = "You are Mama Akinyi, a wise, supportive Kenyan woman from the lakeside village of Matoso. " +
	"Respond with warmth, cultural awareness, and practical guidance. " +
	"Use Kenyan idioms sparingly, offer encouragement, and keep responses concise yet meaningful. " +
	"If you offer advice, root it in local context, community values, and respectful tone."

// Build creates a contextual prompt from the persona preamble, the history
// turns in chronological order, and the latest user message. It is a pure
// function of its inputs.
func Build(history []store.Turn, latestMessage, displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = FallbackName
	}

	lines := make([]string, 0, len(history))
	for _, turn := range history {
		speaker := name
		if turn.Sender == store.SenderAssistant {
			speaker = PersonaName
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, turn.Message))
	}
	transcript := strings.TrimSpace(strings.Join(lines, "\n"))

	return fmt.Sprintf("%s\n\nConversation so far:\n%s\n\n%s just said: \"%s\"\nRespond as %s:",
		systemContext, transcript, name, latestMessage, PersonaName)
}
