package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioSMS sends SMS through Twilio's Messages REST resource.
type TwilioSMS struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	HTTP       *http.Client
}

func (c *TwilioSMS) Send(ctx context.Context, to, body string) error {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	if c.AccountSID == "" || c.AuthToken == "" || c.From == "" {
		return fmt.Errorf("missing twilio credentials")
	}

	form := url.Values{}
	form.Set("To", NormalizePhone(to))
	form.Set("From", c.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(baseURL, "/"), c.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Message == "" {
			apiErr.Message = res.Status
		}
		return fmt.Errorf("twilio: %s (code %d)", apiErr.Message, apiErr.Code)
	}
	return nil
}
