package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/metrics"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
	"github.com/LeventeLantos/whatsapp-dispatch/internal/repo"
)

// CallbackResult tells the webhook what a status callback did.
type CallbackResult int

const (
	CallbackApplied CallbackResult = iota
	CallbackUnknownSID
	CallbackIgnored
)

func (r CallbackResult) String() string {
	switch r {
	case CallbackApplied:
		return "applied"
	case CallbackUnknownSID:
		return "unknown_sid"
	}
	return "ignored"
}

type StatusReconciler struct {
	store repo.MessageRepository
}

func NewStatusReconciler(store repo.MessageRepository) *StatusReconciler {
	return &StatusReconciler{store: store}
}

// ApplyStatusCallback overwrites the status and error fields of the record
// the provider id belongs to. Callbacks are applied in arrival order with no
// sequence check, so a late "sent" can replace an earlier "delivered".
// Unknown ids and intermediate provider states (queued, sending, accepted)
// are not an error.
func (r *StatusReconciler) ApplyStatusCallback(ctx context.Context, sid, status string, errorCode, errorMessage *string) (CallbackResult, error) {
	res, err := r.apply(ctx, sid, status, errorCode, errorMessage)
	if err == nil {
		metrics.StatusCallbacks.WithLabelValues(res.String()).Inc()
	}
	return res, err
}

func (r *StatusReconciler) apply(ctx context.Context, sid, status string, errorCode, errorMessage *string) (CallbackResult, error) {
	sid = strings.TrimSpace(sid)
	st := model.Status(strings.ToLower(strings.TrimSpace(status)))
	if sid == "" || !st.Valid() || st == model.Queued {
		slog.Debug("status callback ignored", "sid", sid, "status", status)
		return CallbackIgnored, nil
	}

	found, err := r.store.ApplyStatusBySID(ctx, sid, st, nonEmpty(errorCode), nonEmpty(errorMessage))
	if err != nil {
		return CallbackIgnored, err
	}
	if !found {
		slog.Info("status callback for unknown sid", "sid", sid, "status", st)
		return CallbackUnknownSID, nil
	}

	slog.Info("status callback applied", "sid", sid, "status", st)
	return CallbackApplied, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
