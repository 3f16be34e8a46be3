package webhook

import (
	"strings"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/platform"
)

// Envelope is the POST body the platforms send.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID        string   `json:"id"`
	Time      int64    `json:"time"`
	Messaging []Event  `json:"messaging"`
	Changes   []Change `json:"changes"`
}

// Change is the Instagram field-subscription shape; its value carries an event.
type Change struct {
	Field string `json:"field"`
	Value Event  `json:"value"`
}

type Event struct {
	Sender    *Party        `json:"sender"`
	Recipient *Party        `json:"recipient"`
	Timestamp int64         `json:"timestamp"`
	Message   *EventMessage `json:"message"`
}

type Party struct {
	ID string `json:"id"`
}

type EventMessage struct {
	Mid    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

// InboundMessage is one customer text message taken out of an envelope. It is
// also the queue payload in rabbitmq mode.
type InboundMessage struct {
	Platform    platform.Kind `json:"platform"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Text        string        `json:"text"`
	MessageID   string        `json:"message_id,omitempty"`
	DeliveryID  string        `json:"delivery_id,omitempty"`
	ReceivedAt  time.Time     `json:"received_at"`
}

// Key identifies the conversation lane of the message.
func (m InboundMessage) Key() string {
	return string(m.Platform) + ":" + m.RecipientID + ":" + m.SenderID
}

// Normalize extracts the customer text messages of env in payload order.
// Echoes of the page's own messages and events without a sender or text are
// dropped, as is every event of an unknown object.
func Normalize(env Envelope) []InboundMessage {
	kind, ok := platform.KindFromObject(env.Object)
	if !ok {
		return nil
	}

	var out []InboundMessage
	add := func(ev Event) {
		if ev.Message == nil || ev.Message.IsEcho {
			return
		}
		if ev.Sender == nil || strings.TrimSpace(ev.Sender.ID) == "" {
			return
		}
		if ev.Message.Text == "" {
			return
		}
		msg := InboundMessage{
			Platform:  kind,
			SenderID:  ev.Sender.ID,
			Text:      ev.Message.Text,
			MessageID: ev.Message.Mid,
		}
		if ev.Recipient != nil {
			msg.RecipientID = ev.Recipient.ID
		}
		out = append(out, msg)
	}

	for _, entry := range env.Entry {
		for _, ev := range entry.Messaging {
			add(ev)
		}
		for _, ch := range entry.Changes {
			add(ch.Value)
		}
	}
	return out
}
