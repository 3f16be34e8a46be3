package reply

import (
	"strings"

	"github.com/suPer8Hu/autoreply-agent/internal/chat"
	"github.com/suPer8Hu/autoreply-agent/internal/knowledge"
)

const closingInstruction = "Respond to the customer's message in a helpful and professional way. Keep your response concise and focused."

// BuildPrompt assembles the single prompt sent to the model. history is in
// chronological order and its last element is the message being answered, so
// it is left out of the history section.
func BuildPrompt(systemPrompt string, docs []knowledge.Document, history []chat.Message, latest string) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if len(docs) > 0 {
		b.WriteString("\n\nKnowledge Base:\n")
		for _, d := range docs {
			b.WriteString("\n--- ")
			b.WriteString(d.Name)
			b.WriteString(" ---\n")
			b.WriteString(d.Content)
			b.WriteString("\n")
		}
	}

	if len(history) > 1 {
		b.WriteString("\n\nConversation History:\n")
		for _, m := range history[:len(history)-1] {
			if m.Sender == chat.SenderCustomer {
				b.WriteString("Customer: ")
			} else {
				b.WriteString("Assistant: ")
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\nCurrent Customer Message: ")
	b.WriteString(latest)
	b.WriteString("\n\n")
	b.WriteString(closingInstruction)
	return b.String()
}
