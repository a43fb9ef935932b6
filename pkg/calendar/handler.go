package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/familyhub/famcal/internal/rest"
	"github.com/familyhub/famcal/pkg/user"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	calendar *Service
}

type EventDTO struct {
	Id          string         `json:"id"`
	UniversalId string         `json:"universalId"`
	Signature   string         `json:"signature"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Category    Category       `json:"category"`
	FamilyId    string         `json:"familyId"`
	Attendees   []Attendee     `json:"attendees"`
	Child       *ChildRef      `json:"child,omitempty"`
	Documents   []any          `json:"documents"`
	Providers   []any          `json:"providers"`
	Source      string         `json:"source"`
	Extra       map[string]any `json:"extra,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type AddEventResponse struct {
	Success     bool     `json:"success"`
	Id          string   `json:"id"`
	UniversalId string   `json:"universalId"`
	IsDuplicate bool     `json:"isDuplicate"`
	Event       EventDTO `json:"event"`
}

func NewHandler(s *Service) *Handler {
	return &Handler{s}
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	h.listInWindow(w, r, h.calendar.GetEvents)
}

func (h *Handler) GetFamilyEvents(w http.ResponseWriter, r *http.Request) {
	h.listInWindow(w, r, h.calendar.GetFamilyEvents)
}

func (h *Handler) listInWindow(w http.ResponseWriter, r *http.Request, list func(context.Context, *time.Time, *time.Time) ([]Event, error)) {
	from, ok := optionalTime(w, r, "from")
	if !ok {
		return
	}
	to, ok := optionalTime(w, r, "to")
	if !ok {
		return
	}

	events, err := list(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err, "Failed to list events")
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventsToDTO(events))
}

func (h *Handler) GetCycleEvents(w http.ResponseWriter, r *http.Request) {
	cycleNumber, ok := cycleParam(w, r)
	if !ok {
		return
	}
	events, err := h.calendar.GetCycleEvents(r.Context(), cycleNumber)
	if err != nil {
		writeServiceError(w, err, "Failed to list cycle events")
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventsToDTO(events))
}

func (h *Handler) GetCycleDueDate(w http.ResponseWriter, r *http.Request) {
	cycleNumber, ok := cycleParam(w, r)
	if !ok {
		return
	}
	event, err := h.calendar.GetCycleDueDate(r.Context(), cycleNumber)
	if err != nil {
		writeServiceError(w, err, "Failed to get cycle due date")
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(event))
}

func cycleParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	cycleNumber, err := strconv.Atoi(mux.Vars(r)["cycle"])
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorResponse{
			Error:   "Invalid cycle",
			Details: "cycle must be a number",
		})
		return 0, false
	}
	return cycleNumber, true
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.calendar.GetEvent(r.Context(), mux.Vars(r)["eventId"])
	if err != nil {
		writeServiceError(w, err, "Failed to get event")
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(event))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var raw RawEvent
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorResponse{
			Error:   "Invalid event",
			Details: "body must be a JSON object",
		})
		return
	}

	result, err := h.calendar.AddEvent(r.Context(), raw)
	if err != nil {
		if result.Queued {
			rest.WriteError(w, http.StatusServiceUnavailable, rest.ErrorResponse{
				Error:   "Event could not be saved yet",
				Details: err.Error(),
				Queued:  true,
			})
			return
		}
		writeServiceError(w, err, "Failed to add event")
		return
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	rest.WriteJSON(w, status, AddEventResponse{
		Success:     true,
		Id:          result.StorageId,
		UniversalId: result.UniversalId,
		IsDuplicate: result.IsDuplicate,
		Event:       eventToDTO(result.Event),
	})
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch RawEvent
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil || patch == nil {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorResponse{
			Error:   "Invalid update",
			Details: "body must be a JSON object",
		})
		return
	}

	event, err := h.calendar.UpdateEvent(r.Context(), mux.Vars(r)["eventId"], patch)
	if err != nil {
		writeServiceError(w, err, "Failed to update event")
		return
	}
	rest.WriteJSON(w, http.StatusOK, eventToDTO(event))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.calendar.DeleteEvent(r.Context(), mux.Vars(r)["eventId"]); err != nil {
		writeServiceError(w, err, "Failed to delete event")
		return
	}
	rest.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	events, err := h.calendar.Refresh(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to refresh events")
		return
	}
	log.Tracef("Refreshed %d events", len(events))
	rest.WriteJSON(w, http.StatusOK, eventsToDTO(events))
}

func optionalTime(w http.ResponseWriter, r *http.Request, param string) (*time.Time, bool) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, rest.ErrorResponse{
			Error:   "Invalid " + param + " (date) format",
			Details: "'" + param + "' must be in RFC3339 format",
		})
		return nil, false
	}
	return &t, true
}

func writeServiceError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, user.ErrNoUser):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	default:
		log.WithError(err).Error(message)
	}
	rest.WriteError(w, status, rest.ErrorResponse{Error: message, Details: err.Error()})
}

func eventsToDTO(events []Event) []EventDTO {
	dtos := make([]EventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, eventToDTO(e))
	}
	return dtos
}

func eventToDTO(e Event) EventDTO {
	return EventDTO{
		Id:          e.StorageId,
		UniversalId: e.UniversalId,
		Signature:   e.Signature,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.StartAt,
		End:         e.EndAt,
		Category:    e.Category,
		FamilyId:    e.FamilyId,
		Attendees:   e.Attendees,
		Child:       e.Child,
		Documents:   e.Documents,
		Providers:   e.Providers,
		Source:      e.Source,
		Extra:       e.Extra,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}
