package model

import "time"

type Status string

const (
	Queued      Status = "queued"
	Sent        Status = "sent"
	Delivered   Status = "delivered"
	Read        Status = "read"
	Failed      Status = "failed"
	Undelivered Status = "undelivered"
)

// Delivered reports whether the provider has already accepted the message.
// Dispatching a record in one of these states is a no-op.
func (s Status) Delivered() bool {
	switch s {
	case Sent, Delivered, Read:
		return true
	}
	return false
}

// Valid reports whether s is one of the known message states.
func (s Status) Valid() bool {
	switch s {
	case Queued, Sent, Delivered, Read, Failed, Undelivered:
		return true
	}
	return false
}

type Message struct {
	ID              int64     `json:"id"`
	SID             *string   `json:"sid,omitempty"`
	ClientReference *string   `json:"client_reference,omitempty"`
	To              string    `json:"to"`
	TemplateSID     string    `json:"template_sid"`
	Variables       Variables `json:"variables"`
	Status          Status    `json:"status"`
	ErrorCode       *string   `json:"error_code,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
