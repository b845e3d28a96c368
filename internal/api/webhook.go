package api

import (
	"log/slog"
	"net/http"

	twilioclient "github.com/twilio/twilio-go/client"
)

const signatureHeader = "X-Twilio-Signature"

// SignatureValidator checks X-Twilio-Signature against the public callback
// URL the provider was told to post to.
type SignatureValidator struct {
	validator twilioclient.RequestValidator
	url       string
}

func NewSignatureValidator(authToken, callbackURL string) *SignatureValidator {
	return &SignatureValidator{
		validator: twilioclient.NewRequestValidator(authToken),
		url:       callbackURL,
	}
}

func (v *SignatureValidator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid form body"})
			return
		}

		params := make(map[string]string, len(r.PostForm))
		for k, vals := range r.PostForm {
			if len(vals) > 0 {
				params[k] = vals[0]
			}
		}

		if !v.validator.Validate(v.url, params, r.Header.Get(signatureHeader)) {
			slog.Warn("status callback rejected", "reason", "bad signature", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "invalid signature"})
			return
		}
		next(w, r)
	}
}

// StatusCallback reconciles a provider delivery report. The provider only needs
// a 2xx, so failures are logged and still acknowledged.
func (h *Handler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("status callback: invalid form", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	sid := r.PostFormValue("MessageSid")
	status := r.PostFormValue("MessageStatus")
	code := optionalForm(r, "ErrorCode")
	msg := optionalForm(r, "ErrorMessage")

	res, err := h.status.ApplyStatusCallback(r.Context(), sid, status, code, msg)
	if err != nil {
		slog.Error("status callback failed", "sid", sid, "status", status, "error", err)
	} else {
		slog.Debug("status callback", "sid", sid, "status", status, "result", res.String())
	}
	w.WriteHeader(http.StatusOK)
}

func optionalForm(r *http.Request, key string) *string {
	if _, ok := r.PostForm[key]; !ok {
		return nil
	}
	v := r.PostFormValue(key)
	return &v
}
