// Package notify delivers offer workflow notifications. Messages are written to
// the outbox in the same transaction as the state change that caused them and
// delivered later by the Relay; delivery failures never affect offer state.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Audience string

const (
	AudienceOwner    Audience = "owner"
	AudienceOperator Audience = "operator"
	AudienceBuyer    Audience = "buyer"
)

type Template string

const (
	TemplateOfferReceived     Template = "offer.received"
	TemplateOfferSubmitted    Template = "offer.submitted"
	TemplateIdentitySubmitted Template = "offer.identity_submitted"
	TemplateOfferRejected     Template = "offer.rejected"
	TemplateOfferAccepted     Template = "offer.accepted"
)

// ErrInvalidMessage signals a message that cannot be delivered as written.
var ErrInvalidMessage = errors.New("notify: invalid message")

// Recipient is a resolved destination. Email and TelegramChatID are both optional.
type Recipient struct {
	Audience       Audience `json:"audience"`
	Name           string   `json:"name,omitempty"`
	Email          string   `json:"email,omitempty"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty"`
}

// Message is one notification: who gets it, which template, and the values it renders.
type Message struct {
	Template  Template          `json:"template"`
	OfferID   string            `json:"offer_id"`
	Recipient Recipient         `json:"recipient"`
	Data      map[string]string `json:"data,omitempty"`
}

// Topic is the outbox topic the message is stored under.
func (m Message) Topic() string {
	return string(m.Template)
}

func (m Message) validate() error {
	if _, ok := templates[m.Template]; !ok {
		return fmt.Errorf("%w: unknown template %q", ErrInvalidMessage, m.Template)
	}
	if m.Recipient.Audience == "" {
		return fmt.Errorf("%w: missing audience", ErrInvalidMessage)
	}
	return nil
}

// Encode serialises the message for the outbox payload column.
func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("notify: marshal message: %w", err)
	}
	return b, nil
}

// Decode parses an outbox payload.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
