package repo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

// MemoryStore keeps records in process memory with the same uniqueness rules
// as the Postgres schema. It backs tests and single-process development runs.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	nextMessageID int64
	messages      map[int64]*model.Message
	bySID         map[string]int64
	byRef         map[string]int64

	nextTemplateID int64
	templates      map[int64]*model.Template
	byName         map[string]int64
	byContentSID   map[string]int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          func() time.Time { return time.Now().UTC() },
		messages:     make(map[int64]*model.Message),
		bySID:        make(map[string]int64),
		byRef:        make(map[string]int64),
		templates:    make(map[int64]*model.Template),
		byName:       make(map[string]int64),
		byContentSID: make(map[string]int64),
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ClientReference != nil {
		if _, ok := s.byRef[*m.ClientReference]; ok {
			return ErrDuplicate
		}
	}
	if m.SID != nil {
		if _, ok := s.bySID[*m.SID]; ok {
			return ErrDuplicate
		}
	}

	s.nextMessageID++
	now := s.now()
	m.ID = s.nextMessageID
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.Queued
	}

	stored := cloneMessage(*m)
	s.messages[m.ID] = &stored
	if m.ClientReference != nil {
		s.byRef[*m.ClientReference] = m.ID
	}
	if m.SID != nil {
		s.bySID[*m.SID] = m.ID
	}
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id int64) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return cloneMessage(*m), nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id int64, sid string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	if m.SID != nil && *m.SID != sid {
		return ErrSIDConflict
	}
	if owner, ok := s.bySID[sid]; ok && owner != id {
		return ErrDuplicate
	}

	m.SID = strPtr(sid)
	s.bySID[sid] = id
	if m.Status != model.Delivered && m.Status != model.Read {
		m.Status = model.Sent
	}
	if m.SentAt == nil {
		t := sentAt.UTC()
		m.SentAt = &t
	}
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id int64, code, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	s.fail(m, code, message)
	return nil
}

func (s *MemoryStore) MarkFailedUnlessDelivered(_ context.Context, id int64, code, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if m.Status.Delivered() {
		return false, nil
	}
	s.fail(m, code, message)
	return true, nil
}

func (s *MemoryStore) fail(m *model.Message, code, message string) {
	m.Status = model.Failed
	m.ErrorCode = nilIfEmpty(code)
	m.ErrorMessage = nilIfEmpty(message)
	m.UpdatedAt = s.now()
}

func (s *MemoryStore) ApplyStatusBySID(_ context.Context, sid string, status model.Status, code, message *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySID[sid]
	if !ok {
		return false, nil
	}
	m := s.messages[id]
	m.Status = status
	m.ErrorCode = copyStr(code)
	m.ErrorMessage = copyStr(message)
	m.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) CreateTemplate(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[t.Name]; ok {
		return ErrDuplicate
	}
	if t.ContentSID != nil {
		if _, ok := s.byContentSID[*t.ContentSID]; ok {
			return ErrDuplicate
		}
	}

	s.nextTemplateID++
	now := s.now()
	t.ID = s.nextTemplateID
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TemplateDraft
	}

	stored := cloneTemplate(*t)
	s.templates[t.ID] = &stored
	s.byName[t.Name] = t.ID
	if t.ContentSID != nil {
		s.byContentSID[*t.ContentSID] = t.ID
	}
	return nil
}

func (s *MemoryStore) GetTemplate(_ context.Context, id int64) (model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return model.Template{}, ErrNotFound
	}
	return cloneTemplate(*t), nil
}

func (s *MemoryStore) ListTemplatesByStatus(_ context.Context, status model.TemplateStatus) ([]model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Template
	for _, t := range s.templates {
		if t.Status == status {
			out = append(out, cloneTemplate(*t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SubmitTemplate(_ context.Context, id int64, category model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = model.TemplatePending
	c := category
	t.Category = &c
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) UpdateTemplateApproval(_ context.Context, id int64, status model.TemplateStatus, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.RejectionReason = copyStr(reason)
	t.UpdatedAt = s.now()
	return nil
}

func cloneMessage(m model.Message) model.Message {
	m.SID = copyStr(m.SID)
	m.ClientReference = copyStr(m.ClientReference)
	m.ErrorCode = copyStr(m.ErrorCode)
	m.ErrorMessage = copyStr(m.ErrorMessage)
	if m.SentAt != nil {
		t := *m.SentAt
		m.SentAt = &t
	}
	m.Variables = slices.Clone(m.Variables)
	return m
}

func cloneTemplate(t model.Template) model.Template {
	t.ContentSID = copyStr(t.ContentSID)
	t.RejectionReason = copyStr(t.RejectionReason)
	if t.Category != nil {
		c := *t.Category
		t.Category = &c
	}
	t.Variables = slices.Clone(t.Variables)
	return t
}

func strPtr(s string) *string { return &s }

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
