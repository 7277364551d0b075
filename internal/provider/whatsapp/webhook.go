package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const (
	ObjectBusinessAccount = "whatsapp_business_account"
	FieldMessages         = "messages"
	SignatureHeader       = "X-Hub-Signature-256"
)

// WebhookPayload is the provider's notification body.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         ChangeMetadata   `json:"metadata"`
	Contacts         []Contact        `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []StatusUpdate   `json:"statuses,omitempty"`

	// Malformed holds items that could not be decoded. Their siblings
	// decode independently.
	Malformed []MalformedItem `json:"-"`
}

// MalformedItem is one undecodable entry of a change value.
type MalformedItem struct {
	Kind  string
	Index int
	Err   error
}

// UnmarshalJSON decodes messages, statuses and contacts item by item so one
// mistyped item does not reject the whole notification.
func (v *ChangeValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		MessagingProduct string            `json:"messaging_product"`
		Metadata         json.RawMessage   `json:"metadata"`
		Contacts         []json.RawMessage `json:"contacts"`
		Messages         []json.RawMessage `json:"messages"`
		Statuses         []json.RawMessage `json:"statuses"`
	}
	*v = ChangeValue{}
	if err := json.Unmarshal(data, &raw); err != nil {
		v.Malformed = append(v.Malformed, MalformedItem{Kind: "value", Err: err})
		return nil
	}
	v.MessagingProduct = raw.MessagingProduct
	if len(raw.Metadata) > 0 {
		_ = json.Unmarshal(raw.Metadata, &v.Metadata)
	}
	for _, item := range raw.Contacts {
		var c Contact
		if err := json.Unmarshal(item, &c); err == nil {
			v.Contacts = append(v.Contacts, c)
		}
	}
	for i, item := range raw.Messages {
		var m InboundMessage
		if err := json.Unmarshal(item, &m); err != nil {
			v.Malformed = append(v.Malformed, MalformedItem{Kind: "message", Index: i, Err: err})
			continue
		}
		v.Messages = append(v.Messages, m)
	}
	for i, item := range raw.Statuses {
		var st StatusUpdate
		if err := json.Unmarshal(item, &st); err != nil {
			v.Malformed = append(v.Malformed, MalformedItem{Kind: "status", Index: i, Err: err})
			continue
		}
		v.Statuses = append(v.Statuses, st)
	}
	return nil
}

type ChangeMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *InboundMedia `json:"image,omitempty"`
	Document *InboundMedia `json:"document,omitempty"`
	Button   *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
}

type InboundMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Body extracts the human-readable content of an inbound message.
func (m InboundMessage) Body() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Image != nil:
		return m.Image.Caption
	case m.Document != nil:
		if m.Document.Caption != "" {
			return m.Document.Caption
		}
		return m.Document.Filename
	case m.Button != nil:
		return m.Button.Text
	}
	return ""
}

type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors,omitempty"`
}

// ContactName picks the profile name for waID, falling back to the first
// contact in the change.
func (v ChangeValue) ContactName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID && c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	if len(v.Contacts) > 0 {
		return v.Contacts[0].Profile.Name
	}
	return ""
}

// VerifySignature checks the sha256 HMAC the provider sends with each
// notification.
func VerifySignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign produces the header value VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
