package app

import (
	"net/http"

	"github.com/familyhub/famcal/pkg/user"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router) {

	// Propagate X-User-Id and X-Family-Id headers into context for downstream services
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()

			userId := req.Header.Get("X-User-Id")
			if userId != "" {
				familyId := req.Header.Get("X-Family-Id")
				log.Tracef("request user: %s (family %s)", userId, familyId)
				ctx = user.WithUser(ctx, user.User{Id: userId, FamilyId: familyId})
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
}
