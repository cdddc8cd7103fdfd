// Package google holds the OAuth2 plumbing for the Google Calendar
// destination: the desktop auth-code flow and token-file persistence.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// OAuthConfig returns the OAuth2 config for the desktop auth-code flow.
// The calendar write scope is required: the sync engine creates, updates and
// deletes events.
func OAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("google client ID and secret are required; set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or the [destination.google] config keys")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}, nil
}

// Exchange trades an authorization code for a token.
func Exchange(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return token, nil
}

// SaveToken writes a token to path as JSON.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// TokenFromFile reads a previously saved token.
func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", path, err)
	}
	return token, nil
}

// Client builds an authenticated HTTP client from the token file, refreshing
// the token automatically as needed.
func Client(ctx context.Context, clientID, clientSecret, tokenFile string) (*http.Client, error) {
	config, err := OAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	token, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token from %s: %w; run the 'auth' command first", tokenFile, err)
	}
	return config.Client(ctx, token), nil
}
