package conversation

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the staff-facing lifecycle state of a conversation.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Conversation represents the conversations table. CustomerContact is the
// natural key: at most one row exists per contact.
type Conversation struct {
	ID              uuid.UUID `json:"id"`
	CustomerContact string    `json:"customer_contact"`
	CustomerName    string    `json:"customer_name"`
	AssignedTo      *string   `json:"assigned_to,omitempty"`
	Status          Status    `json:"status"`
	LastMessageAt   time.Time `json:"last_message_at"`
	Tags            Tags      `json:"tags"`
	Notes           string    `json:"notes"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Touch applies message activity: bumps LastMessageAt and reopens a closed
// conversation. Reports whether the status changed.
func (c *Conversation) Touch(at time.Time) bool {
	c.LastMessageAt = at
	c.UpdatedAt = at
	c.Version++
	if c.Status == StatusClosed {
		c.Status = StatusOpen
		return true
	}
	return false
}

// Patch is a staff-driven partial update. Nil fields are left untouched.
type Patch struct {
	Status          *Status  `json:"status,omitempty"`
	AssignedTo      *string  `json:"assigned_to,omitempty"`
	ClearAssignee   bool     `json:"clear_assignee,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	ExpectedVersion *int64   `json:"expected_version,omitempty"`
}

var ErrInvalidStatus = errors.New("invalid conversation status")

func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.AssignedTo == nil && !p.ClearAssignee && p.Tags == nil && p.Notes == nil
}

// Apply copies the patch onto c. It does not check ExpectedVersion.
func (p Patch) Apply(c *Conversation, at time.Time) {
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.ClearAssignee {
		c.AssignedTo = nil
	} else if p.AssignedTo != nil {
		assignee := *p.AssignedTo
		c.AssignedTo = &assignee
	}
	if p.Tags != nil {
		c.Tags = append(Tags{}, p.Tags...)
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	c.Version++
	c.UpdatedAt = at
}

// ListFilter narrows conversation listings.
type ListFilter struct {
	Status     Status
	AssignedTo string
	Page       int
	Limit      int
}

func (f ListFilter) Normalize() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}

// Tags is stored as a JSONB array.
type Tags []string

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

func (t *Tags) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("unsupported tags column type")
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*t = out
	return nil
}
