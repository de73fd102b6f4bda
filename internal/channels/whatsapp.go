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

// WhatsAppCloud sends text messages through the WhatsApp Business Cloud API.
type WhatsAppCloud struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	HTTP          *http.Client
}

func (w *WhatsAppCloud) Send(ctx context.Context, to, body string) error {
	if w.HTTP == nil {
		w.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := w.BaseURL
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v18.0"
	}
	if w.Token == "" || w.PhoneNumberID == "" {
		return fmt.Errorf("missing whatsapp token or phone number id")
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(NormalizePhone(to), "+"),
		"type":              "text",
		"text": map[string]string{
			"body": body,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(baseURL, "/"), w.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.Token)
	req.Header.Set("Content-Type", "application/json")

	res, err := w.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		if apiErr.Error.Message == "" {
			apiErr.Error.Message = res.Status
		}
		return fmt.Errorf("whatsapp: %s", apiErr.Error.Message)
	}
	return nil
}
