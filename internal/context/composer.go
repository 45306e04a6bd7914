package context

import "strings"

// Separator sits between the persona and the rendered history.
const Separator = "\n\n"

// TextComposer flattens a persona and history into one prompt string for
// clients without a native system role. Each turn renders as
// "<role>: <content>" on its own line.
type TextComposer struct{}

// Compose builds the prompt payload. With an empty history the payload is the
// persona alone.
func (TextComposer) Compose(persona string, history []Turn) string {
	if len(history) == 0 {
		return persona
	}
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString(Separator)
	for i, turn := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	return b.String()
}
