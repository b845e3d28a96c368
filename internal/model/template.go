package model

import (
	"encoding/json"
	"time"
)

type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplatePending  TemplateStatus = "pending"
	TemplateApproved TemplateStatus = "approved"
	TemplateRejected TemplateStatus = "rejected"
)

type Category string

const (
	CategoryUtility        Category = "UTILITY"
	CategoryMarketing      Category = "MARKETING"
	CategoryAuthentication Category = "AUTHENTICATION"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryUtility, CategoryMarketing, CategoryAuthentication:
		return true
	}
	return false
}

type Template struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Category        *Category       `json:"category,omitempty"`
	ContentSID      *string         `json:"content_sid,omitempty"`
	Body            string          `json:"body"`
	Variables       json.RawMessage `json:"variables"`
	Status          TemplateStatus  `json:"status"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
