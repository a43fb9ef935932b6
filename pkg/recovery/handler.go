package recovery

import (
	"net/http"

	"github.com/familyhub/famcal/internal/rest"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	queue  *Queue
	replay ReplayFunc
}

type StatusDTO struct {
	Pending     int `json:"pending"`
	DeadLetters int `json:"deadLetters"`
}

func NewHandler(queue *Queue, replay ReplayFunc) *Handler {
	return &Handler{queue: queue, replay: replay}
}

func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Drain(r.Context(), h.replay)
	if err != nil {
		log.WithError(err).Error("Recovery drain failed")
		rest.WriteError(w, http.StatusInternalServerError, rest.ErrorResponse{
			Error:   "Failed to drain recovery queue",
			Details: err.Error(),
		})
		return
	}
	rest.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Len(r.Context())
	if err != nil {
		rest.WriteError(w, http.StatusInternalServerError, rest.ErrorResponse{Error: "Failed to read recovery queue", Details: err.Error()})
		return
	}
	dead, err := h.queue.DeadLetters(r.Context())
	if err != nil {
		rest.WriteError(w, http.StatusInternalServerError, rest.ErrorResponse{Error: "Failed to read recovery queue", Details: err.Error()})
		return
	}
	rest.WriteJSON(w, http.StatusOK, StatusDTO{Pending: pending, DeadLetters: len(dead)})
}
