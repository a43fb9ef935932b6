package google

import (
	"context"
	"errors"
	"net/http"

	"github.com/familyhub/famcal/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

var ErrUnauthenticated = errors.New("no Google refresh token configured, authentication is required")

// Auth builds OAuth2 clients from stored refresh tokens.
type Auth struct {
	oauthConfig *oauth2.Config
}

func NewAuth(cfg config.Google) *Auth {
	return &Auth{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientId,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarReadonlyScope},
		},
	}
}

// Client returns an HTTP client that refreshes its access token as needed.
func (a *Auth) Client(ctx context.Context, refreshToken string) (*http.Client, error) {
	if refreshToken == "" {
		return nil, ErrUnauthenticated
	}
	return a.oauthConfig.Client(ctx, &oauth2.Token{RefreshToken: refreshToken}), nil
}
