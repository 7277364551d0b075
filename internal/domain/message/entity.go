package message

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message. The usual progression is
// sent -> delivered -> read, with failed terminal from sent. Stores apply
// whatever they are given; provider receipts may arrive out of order.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// StatusFromProvider maps a provider receipt status. ok is false for
// statuses the relay does not track.
func StatusFromProvider(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent":
		return StatusSent, true
	case "delivered":
		return StatusDelivered, true
	case "read":
		return StatusRead, true
	case "failed":
		return StatusFailed, true
	}
	return "", false
}

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindTemplate Kind = "template"
)

// ParseKind defaults an empty kind to text.
func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindText:
		return KindText, true
	case KindImage:
		return KindImage, true
	case KindDocument:
		return KindDocument, true
	case KindTemplate:
		return KindTemplate, true
	}
	return "", false
}

func (k Kind) IsMedia() bool {
	return k == KindImage || k == KindDocument
}

// RecipientSystem marks inbound messages addressed to the business.
const RecipientSystem = "system"

// Message represents the messages table. ConversationID is a plain
// identifier, not a foreign key.
type Message struct {
	ID                uuid.UUID `json:"id"`
	ConversationID    uuid.UUID `json:"conversation_id"`
	SenderID          string    `json:"sender_id"`
	RecipientID       string    `json:"recipient_id"`
	Content           string    `json:"content"`
	Kind              Kind      `json:"kind"`
	Status            Status    `json:"status"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	Metadata          *Metadata `json:"metadata,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Metadata holds the optional per-kind attributes of a message.
type Metadata struct {
	MediaKey          string `json:"media_key,omitempty"`
	MediaURL          string `json:"media_url,omitempty"`
	FileName          string `json:"file_name,omitempty"`
	TemplateName      string `json:"template_name,omitempty"`
	TemplateLanguage  string `json:"template_language,omitempty"`
	ProviderTimestamp string `json:"provider_timestamp,omitempty"`
	ContactName       string `json:"contact_name,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

func (m *Metadata) IsZero() bool {
	return m == nil || *m == Metadata{}
}
