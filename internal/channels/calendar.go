package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenSource yields an OAuth access token for a client.
type TokenSource interface {
	AccessToken(ctx context.Context, clientID, provider string) (string, error)
}

// GoogleCalendar creates events on the client's primary Google calendar.
type GoogleCalendar struct {
	Tokens  TokenSource
	BaseURL string
	HTTP    *http.Client
	// Duration of booked meetings; defaults to 30 minutes.
	Duration time.Duration
}

func (g *GoogleCalendar) CreateEvent(ctx context.Context, clientID string, ev Event) (string, error) {
	if g.HTTP == nil {
		g.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := g.BaseURL
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/calendar/v3"
	}
	if g.Tokens == nil {
		return "", fmt.Errorf("calendar: no token source")
	}

	token, err := g.Tokens.AccessToken(ctx, clientID, "google")
	if err != nil {
		return "", fmt.Errorf("calendar token: %w", err)
	}

	duration := ev.Duration
	if duration <= 0 {
		duration = g.Duration
	}
	if duration <= 0 {
		duration = 30 * time.Minute
	}

	type eventTime struct {
		DateTime string `json:"dateTime"`
	}
	type attendee struct {
		Email string `json:"email"`
	}
	payload := struct {
		Summary     string     `json:"summary"`
		Description string     `json:"description,omitempty"`
		Start       eventTime  `json:"start"`
		End         eventTime  `json:"end"`
		Attendees   []attendee `json:"attendees,omitempty"`
	}{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       eventTime{DateTime: ev.StartTime.UTC().Format(time.RFC3339)},
		End:         eventTime{DateTime: ev.StartTime.Add(duration).UTC().Format(time.RFC3339)},
	}
	for _, email := range ev.Attendees {
		if email = strings.TrimSpace(email); email != "" {
			payload.Attendees = append(payload.Attendees, attendee{Email: email})
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/calendars/primary/events?sendUpdates=all"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := g.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("calendar request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Error.Message == "" {
			return "", fmt.Errorf("calendar: %s", res.Status)
		}
		return "", fmt.Errorf("calendar: %s: %s", res.Status, apiErr.Error.Message)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("calendar response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("calendar: missing event id")
	}
	return resp.ID, nil
}
