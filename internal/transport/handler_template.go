package transport

import (
	"net/http"

	"github.com/atelierops/pulse/internal/template"
	"github.com/atelierops/pulse/model"
)

// templateSummary is the list-view shape of a workflow template.
type templateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description,omitempty"`
	TaskCount   int    `json:"task_count"`
}

func handleListTemplates(registry *template.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		published := registry.ListPublished()
		summaries := make([]templateSummary, 0, len(published))
		for _, tpl := range published {
			summaries = append(summaries, templateSummary{
				ID:          tpl.ID,
				Name:        tpl.Name,
				Version:     tpl.Version,
				Description: tpl.Description,
				TaskCount:   len(tpl.Tasks),
			})
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":        summaries,
			"total_count": len(summaries),
		})
	}
}
