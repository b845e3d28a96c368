package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

// ErrProvider wraps failures of the content approval API.
var ErrProvider = errors.New("content provider request failed")

const whatsappChannel = "whatsapp"

type ContentAPI interface {
	CreateContent(ctx context.Context, payload map[string]any) (map[string]any, error)
	SubmitWhatsAppApproval(ctx context.Context, contentSID, name, category string) (map[string]any, error)
	FetchApprovalRequests(ctx context.Context, contentSID string) (map[string]any, error)
}

type TemplateService struct {
	store   repo.TemplateRepository
	content ContentAPI
}

func NewTemplateService(store repo.TemplateRepository, content ContentAPI) *TemplateService {
	return &TemplateService{store: store, content: content}
}

type CreatedTemplate struct {
	ID           int64  `json:"id"`
	ContentSID   string `json:"content_sid"`
	TwilioStatus any    `json:"twilio_status"`
}

// CreateTemplate registers a draft with the Content API and stores it locally.
// payload is forwarded as is; it must carry friendly_name and a twilio/text body.
func (s *TemplateService) CreateTemplate(ctx context.Context, payload map[string]any) (CreatedTemplate, error) {
	name, _ := payload["friendly_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return CreatedTemplate{}, invalid("friendly_name", "is required")
	}
	body := textBody(payload)
	if body == "" {
		return CreatedTemplate{}, invalid("types", "twilio/text body is required")
	}

	vars := json.RawMessage("{}")
	if v, ok := payload["variables"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return CreatedTemplate{}, invalid("variables", "must be an object")
		}
		for k, val := range m {
			if _, ok := val.(string); !ok {
				return CreatedTemplate{}, invalid("variables", "value of %q must be a string", k)
			}
		}
		b, err := json.Marshal(v)
		if err != nil {
			return CreatedTemplate{}, invalid("variables", "%s", err.Error())
		}
		vars = b
	}

	resp, err := s.content.CreateContent(ctx, payload)
	if err != nil {
		return CreatedTemplate{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	sid, _ := resp["sid"].(string)
	if sid == "" {
		return CreatedTemplate{}, fmt.Errorf("%w: response missing sid", ErrProvider)
	}

	t := &model.Template{
		Name:       name,
		ContentSID: &sid,
		Body:       body,
		Variables:  vars,
		Status:     model.TemplateDraft,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return CreatedTemplate{}, err
	}

	slog.Info("template draft created", "template_id", t.ID, "content_sid", sid)
	return CreatedTemplate{ID: t.ID, ContentSID: sid, TwilioStatus: resp["status"]}, nil
}

func textBody(payload map[string]any) string {
	types, _ := payload["types"].(map[string]any)
	text, _ := types["twilio/text"].(map[string]any)
	body, _ := text["body"].(string)
	return body
}

// SubmitForApproval sends a draft to WhatsApp review and marks it pending.
func (s *TemplateService) SubmitForApproval(ctx context.Context, id int64, category string) (map[string]any, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != model.TemplateDraft {
		return nil, ErrInvalidState
	}
	cat := model.Category(category)
	if !cat.Valid() {
		return nil, invalid("category", "invalid WhatsApp category")
	}
	if t.ContentSID == nil || *t.ContentSID == "" {
		return nil, ErrNoContentSID
	}

	resp, err := s.content.SubmitWhatsAppApproval(ctx, *t.ContentSID, t.Name, string(cat))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if err := s.store.SubmitTemplate(ctx, id, cat); err != nil {
		return nil, err
	}

	slog.Info("template submitted for approval", "template_id", id, "category", cat)
	return resp, nil
}

type ApprovalStatus struct {
	TemplateID       int64          `json:"template_id"`
	ContentSID       string         `json:"content_sid"`
	WhatsAppApproval map[string]any `json:"whatsapp_approval"`
}

// SyncApprovalStatus fetches the provider's WhatsApp verdict and mirrors it on
// the local record. Without a WhatsApp entry the record is left as is.
func (s *TemplateService) SyncApprovalStatus(ctx context.Context, id int64) (ApprovalStatus, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return ApprovalStatus{}, err
	}
	if t.ContentSID == nil || *t.ContentSID == "" {
		return ApprovalStatus{}, ErrNoContentSID
	}

	resp, err := s.content.FetchApprovalRequests(ctx, *t.ContentSID)
	if err != nil {
		return ApprovalStatus{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	out := ApprovalStatus{TemplateID: t.ID, ContentSID: *t.ContentSID}
	entry := whatsappApproval(resp)
	if entry == nil {
		return out, nil
	}
	out.WhatsAppApproval = entry

	status, reason := approvalState(entry)
	if status != t.Status || !sameStr(reason, t.RejectionReason) {
		if err := s.store.UpdateTemplateApproval(ctx, t.ID, status, reason); err != nil {
			return ApprovalStatus{}, err
		}
		slog.Info("template approval updated", "template_id", t.ID, "from", t.Status, "to", status)
	}
	return out, nil
}

// SyncPending refreshes every template awaiting review. It keeps going past
// individual failures and returns them joined.
func (s *TemplateService) SyncPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListTemplatesByStatus(ctx, model.TemplatePending)
	if err != nil {
		return 0, err
	}

	var (
		synced int
		errs   []error
	)
	for _, t := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.SyncApprovalStatus(ctx, t.ID); err != nil {
			errs = append(errs, fmt.Errorf("template %d: %w", t.ID, err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

func whatsappApproval(resp map[string]any) map[string]any {
	if list, ok := resp["approval_requests"].([]any); ok {
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if ch, _ := entry["channel"].(string); ch == whatsappChannel {
				return entry
			}
		}
	}
	if entry, ok := resp[whatsappChannel].(map[string]any); ok {
		return entry
	}
	return nil
}

func approvalState(entry map[string]any) (model.TemplateStatus, *string) {
	status, _ := entry["status"].(string)
	switch strings.ToLower(status) {
	case "approved":
		return model.TemplateApproved, nil
	case "rejected":
		reason, _ := entry["rejection_reason"].(string)
		if reason == "" {
			return model.TemplateRejected, nil
		}
		return model.TemplateRejected, &reason
	default:
		return model.TemplatePending, nil
	}
}

func sameStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
