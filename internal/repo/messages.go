package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is a unique constraint violation (client_reference, sid,
	// template name or content sid).
	ErrDuplicate = errors.New("duplicate record")
	// ErrSIDConflict means the record already carries a different provider id.
	ErrSIDConflict = errors.New("provider sid already set")
)

type MessageRepository interface {
	// CreateMessage inserts m and fills ID, CreatedAt and UpdatedAt.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id int64) (model.Message, error)

	// MarkSent writes sid, status=sent and sent_at (first write wins). A record
	// the callback path already moved to delivered/read keeps that status.
	MarkSent(ctx context.Context, id int64, sid string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id int64, code, message string) error
	// MarkFailedUnlessDelivered is MarkFailed guarded against records already
	// accepted by the provider. It reports whether a row changed.
	MarkFailedUnlessDelivered(ctx context.Context, id int64, code, message string) (bool, error)

	// ApplyStatusBySID overwrites status and error fields of the record with the
	// given provider id. It reports whether such a record exists.
	ApplyStatusBySID(ctx context.Context, sid string, status model.Status, code, message *string) (bool, error)
}

type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id int64) (model.Template, error)
	ListTemplatesByStatus(ctx context.Context, status model.TemplateStatus) ([]model.Template, error)
	SubmitTemplate(ctx context.Context, id int64, category model.Category) error
	UpdateTemplateApproval(ctx context.Context, id int64, status model.TemplateStatus, reason *string) error
}

type Store interface {
	MessageRepository
	TemplateRepository
}
