package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

const maxClientReferenceLen = 64

type Enqueuer interface {
	Enqueue(ctx context.Context, messageID int64) (queue.Handle, error)
}

// batchItem is one message of a bulk submission.
type batchItem struct {
	To              string          `json:"to"`
	TemplateSID     string          `json:"template_sid"`
	Variables       model.Variables `json:"variables"`
	ClientReference *string         `json:"client_reference,omitempty"`
}

// ItemResult reports what happened to the item at Index. Either JobID or
// Error is set; MessageID is set whenever a record was created.
type ItemResult struct {
	Index     int    `json:"index"`
	MessageID int64  `json:"message_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`

	Err error `json:"-"`
}

type BatchSubmitter struct {
	store repo.MessageRepository
	queue Enqueuer
}

func NewBatchSubmitter(store repo.MessageRepository, q Enqueuer) *BatchSubmitter {
	return &BatchSubmitter{store: store, queue: q}
}

// SubmitBatch decodes and submits every raw item independently. A bad item is
// reported at its index and never affects its siblings.
func (s *BatchSubmitter) SubmitBatch(ctx context.Context, raw []json.RawMessage) []ItemResult {
	out := make([]ItemResult, 0, len(raw))
	for i, r := range raw {
		item, err := decodeItem(r)
		if err != nil {
			out = append(out, failed(i, err))
			continue
		}
		out = append(out, s.submit(ctx, i, item))
	}
	return out
}

func (s *BatchSubmitter) submit(ctx context.Context, index int, item batchItem) ItemResult {
	item, err := normalizeItem(item)
	if err != nil {
		return failed(index, err)
	}

	m := &model.Message{
		To:              item.To,
		TemplateSID:     item.TemplateSID,
		Variables:       item.Variables,
		ClientReference: item.ClientReference,
		Status:          model.Queued,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return failed(index, invalid("client_reference", "duplicate client_reference"))
		}
		slog.Error("failed to create message record", "index", index, "error", err)
		return failed(index, err)
	}

	h, err := s.queue.Enqueue(ctx, m.ID)
	if err != nil {
		slog.Error("failed to enqueue message", "message_id", m.ID, "error", err)
		res := failed(index, err)
		res.MessageID = m.ID
		return res
	}

	return ItemResult{Index: index, MessageID: m.ID, JobID: h.JobID}
}

// decodeItem parses one bulk item. Shape errors come back as *ValidationError.
func decodeItem(raw json.RawMessage) (batchItem, error) {
	var item batchItem
	if err := json.Unmarshal(raw, &item); err != nil {
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return batchItem{}, invalid(typeErr.Field, "must be a %s", typeErr.Type.String())
		case errors.As(err, &typeErr):
			return batchItem{}, invalid("", "item must be a JSON object")
		default:
			return batchItem{}, &ValidationError{Message: err.Error()}
		}
	}
	return item, nil
}

func normalizeItem(item batchItem) (batchItem, error) {
	to := strings.TrimPrefix(strings.TrimSpace(item.To), "whatsapp:")
	if to == "" {
		return item, invalid("to", "is required")
	}
	if !strings.HasPrefix(to, "+") {
		return item, invalid("to", "must be in E.164 format")
	}
	num, err := phonenumbers.Parse(to, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return item, invalid("to", "invalid phone number %q", item.To)
	}
	item.To = phonenumbers.Format(num, phonenumbers.E164)

	item.TemplateSID = strings.TrimSpace(item.TemplateSID)
	if item.TemplateSID == "" {
		return item, invalid("template_sid", "is required")
	}

	if item.ClientReference != nil {
		ref := strings.TrimSpace(*item.ClientReference)
		switch {
		case ref == "":
			item.ClientReference = nil
		case utf8.RuneCountInString(ref) > maxClientReferenceLen:
			return item, invalid("client_reference", "must be at most %d characters", maxClientReferenceLen)
		default:
			item.ClientReference = &ref
		}
	}

	if item.Variables == nil {
		item.Variables = model.Variables{}
	}
	return item, nil
}

func failed(index int, err error) ItemResult {
	return ItemResult{Index: index, Error: err.Error(), Err: err}
}
