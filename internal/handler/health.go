package handler

import (
	"context"
	"net/http"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports database connectivity along with the active delivery
// provider.
func (h *BaseHandler) Health(db pinger, providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK

		if err := db.Ping(r.Context()); err != nil {
			h.Logger.Warn("health check: database unreachable", "err", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		if err := h.writeJSON(w, code, envelope{"status": status, "provider": providerName}, nil); err != nil {
			h.logError(r, err)
		}
	}
}
