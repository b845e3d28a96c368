package api

import (
	"net/http"
)

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.templates.CreateTemplate(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type submitRequest struct {
	Category string `json:"category"`
}

func (h *Handler) SubmitTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.templates.SubmitForApproval(r.Context(), id, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Template submitted for WhatsApp approval",
		"twilio_response": resp,
	})
}

func (h *Handler) TemplateApprovalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	out, err := h.templates.SyncApprovalStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
