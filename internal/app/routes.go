package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Calendar
	r.HandleFunc("/api/calendar/event", deps.CalendarHandler.GetEvents).Methods("GET")
	r.HandleFunc("/api/calendar/event", deps.CalendarHandler.CreateEvent).Methods("POST")
	r.HandleFunc("/api/calendar/event/{eventId}", deps.CalendarHandler.GetEvent).Methods("GET")
	r.HandleFunc("/api/calendar/event/{eventId}", deps.CalendarHandler.UpdateEvent).Methods("PUT")
	r.HandleFunc("/api/calendar/event/{eventId}", deps.CalendarHandler.DeleteEvent).Methods("DELETE")
	r.HandleFunc("/api/calendar/refresh", deps.CalendarHandler.Refresh).Methods("POST")
	r.HandleFunc("/api/calendar/family/event", deps.CalendarHandler.GetFamilyEvents).Methods("GET")
	r.HandleFunc("/api/calendar/family/cycle/{cycle}/event", deps.CalendarHandler.GetCycleEvents).Methods("GET")
	r.HandleFunc("/api/calendar/family/cycle/{cycle}/due-date", deps.CalendarHandler.GetCycleDueDate).Methods("GET")

	// Recovery queue
	r.HandleFunc("/api/calendar/recovery", deps.RecoveryHandler.Status).Methods("GET")
	r.HandleFunc("/api/calendar/recovery/drain", deps.RecoveryHandler.Drain).Methods("POST")

	// Google integration
	r.HandleFunc("/api/integrations/google/calendars", deps.GoogleHandler.ListCalendars).Methods("GET")
}
