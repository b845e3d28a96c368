package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)

	mux.HandleFunc("POST /v1/messages/bulk", h.BulkSend)
	mux.HandleFunc("GET /v1/messages/{id}", h.GetMessage)

	mux.HandleFunc("POST /v1/templates", h.CreateTemplate)
	mux.HandleFunc("POST /v1/templates/{id}/submit", h.SubmitTemplate)
	mux.HandleFunc("GET /v1/templates/{id}/approval-status", h.TemplateApprovalStatus)

	callback := h.StatusCallback
	if h.signature != nil {
		callback = h.signature.Middleware(callback)
	}
	mux.HandleFunc("POST /webhooks/twilio/status", callback)

	mux.HandleFunc("GET /v1/queue/stats", h.QueueStats)
	mux.HandleFunc("GET /v1/scheduler/status", h.SchedulerStatus)

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-dispatch"))
	})

	return mux
}
