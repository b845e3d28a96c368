package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

func newMessage(ref *string) *model.Message {
	return &model.Message{
		To:              "+15550001111",
		TemplateSID:     "HX1",
		Variables:       model.Variables{{Key: "1", Value: "A"}},
		ClientReference: ref,
	}
}

func TestMemoryStore_CreateAndGetMessage(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	m := newMessage(nil)
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if m.ID == 0 {
		t.Fatalf("expected ID to be assigned")
	}
	if m.Status != model.Queued {
		t.Fatalf("expected default status queued, got %q", m.Status)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMessage() error: %v", err)
	}
	if got.To != m.To || got.TemplateSID != "HX1" || len(got.Variables) != 1 {
		t.Fatalf("unexpected record %+v", got)
	}

	// Returned records are copies.
	got.Variables[0].Value = "changed"
	again, _ := s.GetMessage(ctx, m.ID)
	if again.Variables[0].Value != "A" {
		t.Fatalf("expected stored record to be isolated from callers")
	}

	if _, err := s.GetMessage(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_EmptyVariablesStayEmpty(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	m := &model.Message{To: "+15550001111", TemplateSID: "HX1", Variables: model.Variables{}}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	got, _ := s.GetMessage(ctx, m.ID)
	if got.Variables == nil || len(got.Variables) != 0 {
		t.Fatalf("expected empty non-nil variables, got %#v", got.Variables)
	}

	tpl := &model.Template{Name: "empty_vars", Body: "Hi", Variables: []byte{}}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error: %v", err)
	}
	gotTpl, _ := s.GetTemplate(ctx, tpl.ID)
	if gotTpl.Variables == nil {
		t.Fatalf("expected empty non-nil template variables, got nil")
	}

	// Stored copies are detached from the caller's slice.
	m.Variables = append(m.Variables, model.Variable{Key: "1", Value: "x"})
	got, _ = s.GetMessage(ctx, m.ID)
	if len(got.Variables) != 0 {
		t.Fatalf("expected stored variables unchanged, got %v", got.Variables)
	}
}

func TestMemoryStore_ClientReferenceUnique(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	ref := "order_123"

	if err := s.CreateMessage(ctx, newMessage(&ref)); err != nil {
		t.Fatalf("first CreateMessage() error: %v", err)
	}
	if err := s.CreateMessage(ctx, newMessage(&ref)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.CreateMessage(ctx, newMessage(nil)); err != nil {
		t.Fatalf("expected nil client_reference to be allowed repeatedly, got %v", err)
	}
	if err := s.CreateMessage(ctx, newMessage(nil)); err != nil {
		t.Fatalf("expected nil client_reference to be allowed repeatedly, got %v", err)
	}
}

func TestMemoryStore_MarkSent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	m := newMessage(nil)
	_ = s.CreateMessage(ctx, m)

	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := s.MarkSent(ctx, m.ID, "SM123", first); err != nil {
		t.Fatalf("MarkSent() error: %v", err)
	}

	got, _ := s.GetMessage(ctx, m.ID)
	if got.SID == nil || *got.SID != "SM123" {
		t.Fatalf("expected sid SM123, got %v", got.SID)
	}
	if got.Status != model.Sent {
		t.Fatalf("expected status sent, got %q", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(first) {
		t.Fatalf("expected sent_at %v, got %v", first, got.SentAt)
	}

	// Same sid again keeps the first sent_at.
	if err := s.MarkSent(ctx, m.ID, "SM123", first.Add(time.Hour)); err != nil {
		t.Fatalf("repeat MarkSent() error: %v", err)
	}
	got, _ = s.GetMessage(ctx, m.ID)
	if !got.SentAt.Equal(first) {
		t.Fatalf("expected sent_at to stay %v, got %v", first, got.SentAt)
	}

	if err := s.MarkSent(ctx, m.ID, "SM999", first); !errors.Is(err, ErrSIDConflict) {
		t.Fatalf("expected ErrSIDConflict, got %v", err)
	}

	other := newMessage(nil)
	_ = s.CreateMessage(ctx, other)
	if err := s.MarkSent(ctx, other.ID, "SM123", first); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused sid, got %v", err)
	}

	if err := s.MarkSent(ctx, 999, "SMx", first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_MarkSentKeepsLaterCallbackStatus(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	m := newMessage(nil)
	_ = s.CreateMessage(ctx, m)
	_ = s.MarkSent(ctx, m.ID, "SM1", time.Now())
	if _, err := s.ApplyStatusBySID(ctx, "SM1", model.Read, nil, nil); err != nil {
		t.Fatalf("ApplyStatusBySID() error: %v", err)
	}

	_ = s.MarkSent(ctx, m.ID, "SM1", time.Now())
	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != model.Read {
		t.Fatalf("expected read to survive MarkSent, got %q", got.Status)
	}
}

func TestMemoryStore_MarkFailedUnlessDelivered(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	queued := newMessage(nil)
	_ = s.CreateMessage(ctx, queued)
	changed, err := s.MarkFailedUnlessDelivered(ctx, queued.ID, "", "retries exhausted")
	if err != nil || !changed {
		t.Fatalf("expected queued record to fail, changed=%v err=%v", changed, err)
	}
	got, _ := s.GetMessage(ctx, queued.ID)
	if got.Status != model.Failed || got.ErrorCode != nil || got.ErrorMessage == nil {
		t.Fatalf("unexpected record %+v", got)
	}

	sent := newMessage(nil)
	_ = s.CreateMessage(ctx, sent)
	_ = s.MarkSent(ctx, sent.ID, "SM2", time.Now())
	changed, err = s.MarkFailedUnlessDelivered(ctx, sent.ID, "", "retries exhausted")
	if err != nil || changed {
		t.Fatalf("expected sent record untouched, changed=%v err=%v", changed, err)
	}
}

func TestMemoryStore_ApplyStatusBySID(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	found, err := s.ApplyStatusBySID(ctx, "unknown", model.Delivered, nil, nil)
	if err != nil || found {
		t.Fatalf("expected not found without error, found=%v err=%v", found, err)
	}

	m := newMessage(nil)
	_ = s.CreateMessage(ctx, m)
	_ = s.MarkFailed(ctx, m.ID, "30001", "queue overflow")
	_ = s.MarkSent(ctx, m.ID, "SM3", time.Now())

	code := "30008"
	msg := "Unknown error"
	found, err = s.ApplyStatusBySID(ctx, "SM3", model.Undelivered, &code, &msg)
	if err != nil || !found {
		t.Fatalf("expected found, found=%v err=%v", found, err)
	}
	got, _ := s.GetMessage(ctx, m.ID)
	if got.Status != model.Undelivered || *got.ErrorCode != "30008" {
		t.Fatalf("unexpected record %+v", got)
	}

	// Error fields are overwritten, not merged.
	_, _ = s.ApplyStatusBySID(ctx, "SM3", model.Delivered, nil, nil)
	got, _ = s.GetMessage(ctx, m.ID)
	if got.Status != model.Delivered || got.ErrorCode != nil || got.ErrorMessage != nil {
		t.Fatalf("expected error fields cleared, got %+v", got)
	}
}

func TestMemoryStore_Templates(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	sid := "HXabc"

	tpl := &model.Template{Name: "owl_air_qr", ContentSID: &sid, Body: "Hi {{1}}"}
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate() error: %v", err)
	}
	if tpl.Status != model.TemplateDraft {
		t.Fatalf("expected draft, got %q", tpl.Status)
	}

	if err := s.CreateTemplate(ctx, &model.Template{Name: "owl_air_qr", Body: "x"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate name error, got %v", err)
	}

	if err := s.SubmitTemplate(ctx, tpl.ID, model.CategoryUtility); err != nil {
		t.Fatalf("SubmitTemplate() error: %v", err)
	}
	pending, _ := s.ListTemplatesByStatus(ctx, model.TemplatePending)
	if len(pending) != 1 || pending[0].Category == nil || *pending[0].Category != model.CategoryUtility {
		t.Fatalf("unexpected pending list %+v", pending)
	}

	reason := "bad format"
	_ = s.UpdateTemplateApproval(ctx, tpl.ID, model.TemplateRejected, &reason)
	got, _ := s.GetTemplate(ctx, tpl.ID)
	if got.Status != model.TemplateRejected || got.RejectionReason == nil {
		t.Fatalf("unexpected template %+v", got)
	}

	_ = s.UpdateTemplateApproval(ctx, tpl.ID, model.TemplateApproved, nil)
	got, _ = s.GetTemplate(ctx, tpl.ID)
	if got.Status != model.TemplateApproved || got.RejectionReason != nil {
		t.Fatalf("expected approval to clear reason, got %+v", got)
	}

	if _, err := s.GetTemplate(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
