package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/queue"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/service"
)

const maxBodyBytes = 5 << 20

type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, raw []json.RawMessage) []service.ItemResult
}

type StatusApplier interface {
	ApplyStatusCallback(ctx context.Context, sid, status string, errorCode, errorMessage *string) (service.CallbackResult, error)
}

type TemplateWorkflow interface {
	CreateTemplate(ctx context.Context, payload map[string]any) (service.CreatedTemplate, error)
	SubmitForApproval(ctx context.Context, id int64, category string) (map[string]any, error)
	SyncApprovalStatus(ctx context.Context, id int64) (service.ApprovalStatus, error)
}

type MessageReader interface {
	GetMessage(ctx context.Context, id int64) (model.Message, error)
}

type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type Deps struct {
	Batch     BatchSubmitter
	Status    StatusApplier
	Templates TemplateWorkflow
	Messages  MessageReader
	Queue     QueueStats
	Promoter  *scheduler.Scheduler
	// Signature, when set, guards the status webhook.
	Signature *SignatureValidator
}

type Handler struct {
	batch     BatchSubmitter
	status    StatusApplier
	templates TemplateWorkflow
	messages  MessageReader
	queue     QueueStats
	promoter  *scheduler.Scheduler
	signature *SignatureValidator
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		batch:     d.Batch,
		status:    d.Status,
		templates: d.Templates,
		messages:  d.Messages,
		queue:     d.Queue,
		promoter:  d.Promoter,
		signature: d.Signature,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type bulkRequest struct {
	Messages []json.RawMessage `json:"messages"`
}

func (h *Handler) BulkSend(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, &service.ValidationError{Field: "messages", Message: "must not be empty"})
		return
	}

	results := h.batch.SubmitBatch(r.Context(), req.Messages)

	jobIDs := make([]string, 0, len(results))
	for _, res := range results {
		if res.JobID != "" {
			jobIDs = append(jobIDs, res.JobID)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued_jobs": jobIDs,
		"results":     results,
	})
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.promoter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"running": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.promoter.IsRunning(),
		"ticks":    h.promoter.Ticks(),
		"failures": h.promoter.Failures(),
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, &service.ValidationError{Field: "id", Message: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &service.ValidationError{Message: "request body too large"}
		}
		return &service.ValidationError{Message: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
