package google

import (
	"errors"
	"net/http"

	"github.com/familyhub/famcal/internal/rest"
	"github.com/familyhub/famcal/pkg/user"
	log "github.com/sirupsen/logrus"
)

type CalendarItemDto struct {
	Id      string `json:"id"`
	Summary string `json:"summary"`
}

// TokenLookup returns the refresh token configured for an owner.
type TokenLookup func(ownerId string) string

type Handler struct {
	service Service
	tokens  TokenLookup
}

func NewHandler(s Service, tokens TokenLookup) *Handler {
	return &Handler{service: s, tokens: tokens}
}

func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	userId, err := user.CurrentId(r.Context())
	if err != nil {
		rest.WriteError(w, http.StatusUnauthorized, rest.ErrorResponse{Error: "unable to retrieve current user"})
		return
	}

	calendars, err := h.service.ListCalendars(r.Context(), h.tokens(userId))
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			rest.WriteError(w, http.StatusForbidden, rest.ErrorResponse{Error: "Google account is not connected"})
			return
		}
		log.WithError(err).Error("failed to list Google calendars")
		rest.WriteError(w, http.StatusInternalServerError, rest.ErrorResponse{Error: "Failed to list Google calendars"})
		return
	}

	calendarItems := make([]CalendarItemDto, 0, len(calendars))
	for _, c := range calendars {
		calendarItems = append(calendarItems, toCalendarItemDto(c))
	}
	rest.WriteJSON(w, http.StatusOK, calendarItems)
}

func toCalendarItemDto(ci CalendarItem) CalendarItemDto {
	return CalendarItemDto{
		Id:      ci.ID,
		Summary: ci.Summary,
	}
}
