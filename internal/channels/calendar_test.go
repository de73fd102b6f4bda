package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
)

type staticTokens map[string]string

func (s staticTokens) AccessToken(ctx context.Context, clientID, provider string) (string, error) {
	token, ok := s[clientID]
	if !ok {
		return "", appErrors.ErrNotConfigured
	}
	return token, nil
}

func TestGoogleCalendarCreateEvent(t *testing.T) {
	start := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		assert.Equal(t, "all", r.URL.Query().Get("sendUpdates"))
		assert.Equal(t, "Bearer g-token", r.Header.Get("Authorization"))

		var body struct {
			Summary string `json:"summary"`
			Start   struct {
				DateTime string `json:"dateTime"`
			} `json:"start"`
			End struct {
				DateTime string `json:"dateTime"`
			} `json:"end"`
			Attendees []struct {
				Email string `json:"email"`
			} `json:"attendees"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Intro call", body.Summary)
		assert.Equal(t, "2024-01-03T09:00:00Z", body.Start.DateTime)
		assert.Equal(t, "2024-01-03T09:30:00Z", body.End.DateTime)
		require.Len(t, body.Attendees, 1)
		assert.Equal(t, "ada@example.com", body.Attendees[0].Email)

		_, _ = w.Write([]byte(`{"id":"evt-1"}`))
	}))
	defer srv.Close()

	cal := &GoogleCalendar{Tokens: staticTokens{"c1": "g-token"}, BaseURL: srv.URL, HTTP: srv.Client()}
	id, err := cal.CreateEvent(context.Background(), "c1", Event{
		Summary:   "Intro call",
		StartTime: start,
		Attendees: []string{"ada@example.com", " "},
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
}

func TestGoogleCalendarMissingToken(t *testing.T) {
	cal := &GoogleCalendar{Tokens: staticTokens{}, BaseURL: "https://example.test"}
	_, err := cal.CreateEvent(context.Background(), "c1", Event{Summary: "x", StartTime: time.Now()})
	require.ErrorIs(t, err, appErrors.ErrNotConfigured)
}

func TestGoogleCalendarAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient scope"}}`))
	}))
	defer srv.Close()

	cal := &GoogleCalendar{Tokens: staticTokens{"c1": "t"}, BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := cal.CreateEvent(context.Background(), "c1", Event{Summary: "x", StartTime: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient scope")
	assert.Contains(t, err.Error(), "403")
}

func TestGoogleCalendarNonJSONErrorKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer srv.Close()

	cal := &GoogleCalendar{Tokens: staticTokens{"c1": "t"}, BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := cal.CreateEvent(context.Background(), "c1", Event{Summary: "x", StartTime: time.Now()})
	require.Error(t, err)
	assert.Equal(t, "calendar: 502 Bad Gateway", err.Error())
}
