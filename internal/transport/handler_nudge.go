package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelierops/pulse/internal/nudge"
	"github.com/atelierops/pulse/model"
)

func handleAcknowledgeNudge(dispatcher *nudge.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		nudgeID := chi.URLParam(r, "nudgeId")

		if err := dispatcher.Acknowledge(r.Context(), rctx.OrgID, nudgeID, rctx.ActorID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	}
}
